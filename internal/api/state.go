// Package api provides context-based response handling for the infergate
// HTTP surface.
//
// Handlers and middleware set responses and errors in request context rather
// than writing directly to ResponseWriter. The outermost Handler middleware
// writes the response once, which gives every endpoint the same structured
// JSON error shape, panic recovery, and a single canonical log line per
// request (via canonlog).
//
// Basic usage:
//
//	r := chi.NewRouter()
//	r.Use(api.Handler(api.WithCanonlog()))
//
//	r.Post("/v1/conversations", func(w http.ResponseWriter, r *http.Request) {
//	    conv, err := repo.Create(r.Context(), userID, req.Title)
//	    if err != nil {
//	        api.SetError(r, api.ErrInternal)
//	        return
//	    }
//	    api.SetResponse(r, http.StatusCreated, conv)
//	})
package api

import (
	"context"
	"net/http"
	"sync"
)

type stateContextKey string

const stateKey stateContextKey = "api_state"

// State holds the response state for a request.
type State struct {
	mu      sync.Mutex
	err     *Error
	status  int
	body    any
	raw     func(http.ResponseWriter)
	headers http.Header
}

// SetError sets an error response in the request context.
// If the Handler middleware is not present (state is nil), this is a no-op.
// Use HasState() to check if the middleware is active.
func SetError(r *http.Request, err *Error) {
	state := getState(r.Context())
	if state == nil {
		return
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	state.err = err
}

// SetResponse sets a success response in the request context.
// If the Handler middleware is not present (state is nil), this is a no-op.
func SetResponse(r *http.Request, status int, body any) {
	state := getState(r.Context())
	if state == nil {
		return
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	state.status = status
	state.body = body
}

// SetRawResponse registers a function that writes the response body itself,
// bypassing JSON encoding. Used by the streaming chat proxy, which relays
// SSE bytes from the inference server as they arrive.
func SetRawResponse(r *http.Request, write func(http.ResponseWriter)) {
	state := getState(r.Context())
	if state == nil {
		return
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	state.raw = write
}

// SetHeader sets a response header in the request context.
// If the Handler middleware is not present (state is nil), this is a no-op.
func SetHeader(r *http.Request, key, value string) {
	state := getState(r.Context())
	if state == nil {
		return
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.headers == nil {
		state.headers = make(http.Header)
	}
	state.headers.Set(key, value)
}

// AddHeader adds a response header value in the request context.
// If the Handler middleware is not present (state is nil), this is a no-op.
func AddHeader(r *http.Request, key, value string) {
	state := getState(r.Context())
	if state == nil {
		return
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.headers == nil {
		state.headers = make(http.Header)
	}
	state.headers.Add(key, value)
}

// HasState returns true if response state exists in the context.
func HasState(ctx context.Context) bool {
	return getState(ctx) != nil
}

func getState(ctx context.Context) *State {
	state, _ := ctx.Value(stateKey).(*State)
	return state
}
