// Package server wires the HTTP surface: authentication, admission control,
// the chat/model proxy, conversation CRUD, and instance endpoints.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nhalm/infergate/internal/api"
	"github.com/nhalm/infergate/internal/auth"
	"github.com/nhalm/infergate/internal/compute"
	"github.com/nhalm/infergate/internal/convo"
	"github.com/nhalm/infergate/internal/liveness"
	"github.com/nhalm/infergate/internal/ratelimit"
	"github.com/nhalm/infergate/internal/upstream"
)

// Server holds the handler dependencies.
type Server struct {
	verifier *auth.Verifier
	limiter  *ratelimit.Limiter
	convos   *convo.Repo
	activity *liveness.Recorder
	infer    *upstream.Client
	manager  compute.Manager
	maxBody  int64
}

// New creates a Server.
func New(
	verifier *auth.Verifier,
	limiter *ratelimit.Limiter,
	convos *convo.Repo,
	activity *liveness.Recorder,
	infer *upstream.Client,
	manager compute.Manager,
	maxBody int64,
) *Server {
	return &Server{
		verifier: verifier,
		limiter:  limiter,
		convos:   convos,
		activity: activity,
		infer:    infer,
		manager:  manager,
		maxBody:  maxBody,
	}
}

// Router builds the chi router. Every protected operation runs behind
// authentication (fail closed) and then its own admission check (fail open);
// the two layers deliberately fail in opposite directions.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(api.Handler(api.WithCanonlog(), api.WithCanonlogFields(func(r *http.Request) map[string]any {
		fields := map[string]any{}
		if reqID := r.Header.Get("X-Request-ID"); reqID != "" {
			fields["request_id"] = reqID
		}
		return fields
	})))

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.verifier.Middleware())

		r.With(s.admit("chat"), api.MaxBodySize(s.maxBody)).
			Post("/chat/completions", s.handleChatCompletion)

		r.With(s.admit("models")).Get("/models", s.handleListModels)

		r.Route("/conversations", func(r chi.Router) {
			read := s.admit("conversation_read")
			write := s.admit("conversation_write")

			r.With(write, api.MaxBodySize(s.maxBody)).Post("/", s.handleCreateConversation)
			r.With(read).Get("/", s.handleListConversations)
			r.With(read).Get("/{id}", s.handleGetConversation)
			r.With(write, api.MaxBodySize(s.maxBody)).Post("/{id}/messages", s.handleAppendMessage)
			r.With(write).Delete("/{id}", s.handleDeleteConversation)
		})

		r.Route("/instance", func(r chi.Router) {
			r.With(s.admit("instance_read")).Get("/", s.handleInstanceStatus)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireAdmin())
				r.Use(s.admit("instance_admin"))
				r.Post("/start", s.handleInstanceStart)
				r.Post("/stop", s.handleInstanceStop)
			})
		})
	})

	return r
}

func (s *Server) admit(operation string) func(http.Handler) http.Handler {
	return s.limiter.Middleware(operation, auth.Subject)
}
