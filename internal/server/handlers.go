package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nhalm/canonlog"

	"github.com/nhalm/infergate/internal/api"
	"github.com/nhalm/infergate/internal/auth"
	"github.com/nhalm/infergate/internal/bind"
	"github.com/nhalm/infergate/internal/convo"
	"github.com/nhalm/infergate/internal/upstream"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	api.SetResponse(r, http.StatusOK, map[string]string{"status": "ok"})
}

type chatMessage struct {
	Role    string `json:"role" validate:"required"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model" validate:"required"`
	Messages []chatMessage `json:"messages" validate:"required,min=1,dive"`
	Stream   bool          `json:"stream"`
}

// handleChatCompletion forwards a completion request to the inference
// server. The request body is validated here but forwarded verbatim, so
// provider-specific fields survive the proxy.
func (s *Server) handleChatCompletion(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			api.SetError(r, api.ErrPayloadTooLarge.With("Request body too large"))
		} else {
			api.SetError(r, api.ErrBadRequest.With("Could not read request body"))
		}
		return
	}

	var req chatRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		api.SetError(r, api.ErrBadRequest.With("Invalid JSON body"))
		return
	}
	if req.Model == "" || len(req.Messages) == 0 {
		api.SetError(r, api.ErrBadRequest.With("model and messages are required"))
		return
	}

	s.touchActivity(r)

	if req.Stream {
		body, err := s.infer.StreamChatCompletion(r.Context(), payload)
		if err != nil {
			api.SetError(r, upstreamError(err))
			return
		}
		api.SetRawResponse(r, func(w http.ResponseWriter) {
			defer body.Close()
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.WriteHeader(http.StatusOK)
			relay(w, body)
		})
		return
	}

	data, err := s.infer.ChatCompletion(r.Context(), payload)
	if err != nil {
		api.SetError(r, upstreamError(err))
		return
	}
	api.SetRawResponse(r, func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	data, err := s.infer.ListModels(r.Context())
	if err != nil {
		api.SetError(r, upstreamError(err))
		return
	}
	api.SetRawResponse(r, func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	})
}

type createConversationRequest struct {
	Title string `json:"title" validate:"max=200"`
	Model string `json:"model" validate:"max=100"`
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if !bind.JSON(r, &req) {
		return
	}

	identity, _ := auth.IdentityFromContext(r.Context())
	conv, err := s.convos.Create(r.Context(), identity.Subject, req.Title, req.Model)
	if err != nil {
		api.SetError(r, api.ErrInternal)
		canonlog.ErrorAdd(r.Context(), err)
		return
	}

	s.touchActivity(r)
	api.SetResponse(r, http.StatusCreated, conv)
}

type listConversationsRequest struct {
	Limit int64 `query:"limit" validate:"min=0,max=200"`
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	req := listConversationsRequest{Limit: 50}
	if !bind.Query(r, &req) {
		return
	}

	identity, _ := auth.IdentityFromContext(r.Context())
	convs, err := s.convos.List(r.Context(), identity.Subject, req.Limit)
	if err != nil {
		api.SetError(r, api.ErrInternal)
		canonlog.ErrorAdd(r.Context(), err)
		return
	}

	api.SetResponse(r, http.StatusOK, map[string]any{"conversations": convs})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())
	conv, err := s.convos.Get(r.Context(), identity.Subject, chi.URLParam(r, "id"))
	if errors.Is(err, convo.ErrNotFound) {
		api.SetError(r, api.ErrNotFound.With("Conversation not found"))
		return
	}
	if err != nil {
		api.SetError(r, api.ErrInternal)
		canonlog.ErrorAdd(r.Context(), err)
		return
	}

	api.SetResponse(r, http.StatusOK, conv)
}

type appendMessageRequest struct {
	Role    string `json:"role" validate:"required,oneof=user assistant system"`
	Content string `json:"content" validate:"required"`
}

func (s *Server) handleAppendMessage(w http.ResponseWriter, r *http.Request) {
	var req appendMessageRequest
	if !bind.JSON(r, &req) {
		return
	}

	identity, _ := auth.IdentityFromContext(r.Context())
	conv, err := s.convos.Append(r.Context(), identity.Subject, chi.URLParam(r, "id"), convo.Message{
		Role:    req.Role,
		Content: req.Content,
	})
	if errors.Is(err, convo.ErrNotFound) {
		api.SetError(r, api.ErrNotFound.With("Conversation not found"))
		return
	}
	if err != nil {
		api.SetError(r, api.ErrInternal)
		canonlog.ErrorAdd(r.Context(), err)
		return
	}

	s.touchActivity(r)
	api.SetResponse(r, http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())
	err := s.convos.Delete(r.Context(), identity.Subject, chi.URLParam(r, "id"))
	if errors.Is(err, convo.ErrNotFound) {
		api.SetError(r, api.ErrNotFound.With("Conversation not found"))
		return
	}
	if err != nil {
		api.SetError(r, api.ErrInternal)
		canonlog.ErrorAdd(r.Context(), err)
		return
	}

	api.SetResponse(r, http.StatusNoContent, nil)
}

func (s *Server) handleInstanceStatus(w http.ResponseWriter, r *http.Request) {
	inst, err := s.manager.Describe(r.Context())
	if err != nil {
		api.SetError(r, api.ErrUpstream.With("Could not query instance state"))
		canonlog.ErrorAdd(r.Context(), err)
		return
	}

	resp := map[string]any{"state": inst.State}
	if inst.Running() {
		resp["started_at"] = inst.StartedAt.Unix()
		resp["uptime_seconds"] = int64(time.Since(inst.StartedAt).Seconds())
	}
	api.SetResponse(r, http.StatusOK, resp)
}

func (s *Server) handleInstanceStart(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Start(r.Context()); err != nil {
		api.SetError(r, api.ErrUpstream.With("Could not start instance"))
		canonlog.ErrorAdd(r.Context(), err)
		return
	}

	// Record activity so the lifecycle monitor does not reap a freshly
	// started instance before its first request arrives.
	s.touchActivity(r)
	api.SetResponse(r, http.StatusAccepted, map[string]string{"status": "starting"})
}

func (s *Server) handleInstanceStop(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Stop(r.Context()); err != nil {
		api.SetError(r, api.ErrUpstream.With("Could not stop instance"))
		canonlog.ErrorAdd(r.Context(), err)
		return
	}

	api.SetResponse(r, http.StatusAccepted, map[string]string{"status": "stopping"})
}

// touchActivity updates the liveness signal. A write failure is logged but
// never fails the user's request.
func (s *Server) touchActivity(r *http.Request) {
	if err := s.activity.Touch(r.Context()); err != nil {
		canonlog.ErrorAdd(r.Context(), fmt.Errorf("liveness touch: %w", err))
	}
}

func upstreamError(err error) *api.Error {
	if errors.Is(err, upstream.ErrUnavailable) {
		return api.ErrServiceUnavailable.With("Inference server unreachable; the instance may be stopped")
	}
	var statusErr *upstream.StatusError
	if errors.As(err, &statusErr) {
		return api.ErrUpstream.With(fmt.Sprintf("Inference server returned status %d", statusErr.StatusCode))
	}
	return api.ErrUpstream
}

func relay(w http.ResponseWriter, body io.Reader) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}
