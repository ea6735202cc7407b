package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/nhalm/infergate/internal/auth"
	"github.com/nhalm/infergate/internal/compute"
	"github.com/nhalm/infergate/internal/config"
	"github.com/nhalm/infergate/internal/convo"
	"github.com/nhalm/infergate/internal/liveness"
	"github.com/nhalm/infergate/internal/ratelimit"
	"github.com/nhalm/infergate/internal/server"
	"github.com/nhalm/infergate/internal/store"
	"github.com/nhalm/infergate/internal/upstream"
)

func main() {
	configPath := flag.String("config", "", "path to optional config file")
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

	srv := server.New(
		auth.NewVerifier(cfg.Auth.Secret, cfg.Auth.AdminSubjects),
		ratelimit.New(st, cfg.RateLimits.Limits()),
		convo.NewRepo(st),
		liveness.New(st),
		upstream.New(cfg.Upstream.URL, cfg.Upstream.APIKey),
		compute.NewHTTPManager(cfg.Compute.URL, cfg.Compute.Token),
		cfg.Server.MaxBodyBytes,
	)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("listening on %s", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
