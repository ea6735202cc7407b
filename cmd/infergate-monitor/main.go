// The infergate-monitor binary runs the lifecycle monitor: it periodically
// inspects the inference instance and stops it when idle or past the hard
// running limit. Run with -once under an external scheduler, or without it
// to tick on the configured interval.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/nhalm/infergate/internal/compute"
	"github.com/nhalm/infergate/internal/config"
	"github.com/nhalm/infergate/internal/lifecycle"
	"github.com/nhalm/infergate/internal/liveness"
	"github.com/nhalm/infergate/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to optional config file")
	once := flag.Bool("once", false, "run a single evaluation and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	st, err := store.NewRedis(store.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.Redis.Prefix,
	})
	if err != nil {
		log.Fatalf("connect store: %v", err)
	}
	defer st.Close()

	monitor := lifecycle.New(
		compute.NewHTTPManager(cfg.Compute.URL, cfg.Compute.Token),
		liveness.New(st),
		lifecycle.Config{
			IdleTimeout: cfg.Lifecycle.IdleTimeout,
			HardLimit:   cfg.Lifecycle.HardLimit,
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *once {
		monitor.EvaluateAndAct(ctx)
		return
	}

	monitor.Run(ctx, cfg.Lifecycle.Interval)
}
