package upstream_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nhalm/infergate/internal/upstream"
)

func TestChatCompletion(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("expected bearer auth, got %q", auth)
		}
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"choices":[{"message":{"content":"hi"}}]}`))
	}))
	defer srv.Close()

	c := upstream.New(srv.URL, "sk-test")
	payload := []byte(`{"model":"llama-3","messages":[{"role":"user","content":"hello"}]}`)

	data, err := c.ChatCompletion(context.Background(), payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(gotBody) != string(payload) {
		t.Error("expected request body forwarded verbatim")
	}
	if string(data) != `{"choices":[{"message":{"content":"hi"}}]}` {
		t.Errorf("unexpected response: %s", data)
	}
}

func TestChatCompletionStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := upstream.New(srv.URL, "")
	_, err := c.ChatCompletion(context.Background(), []byte(`{}`))

	var statusErr *upstream.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", statusErr.StatusCode)
	}
}

func TestChatCompletionUnreachable(t *testing.T) {
	c := upstream.New("http://127.0.0.1:1", "")
	_, err := c.ChatCompletion(context.Background(), []byte(`{}`))
	if !errors.Is(err, upstream.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestStreamChatCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"delta\":\"h\"}\n\ndata: [DONE]\n\n"))
	}))
	defer srv.Close()

	c := upstream.New(srv.URL, "")
	body, err := c.StreamChatCompletion(context.Background(), []byte(`{"stream":true}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if string(data) != "data: {\"delta\":\"h\"}\n\ndata: [DONE]\n\n" {
		t.Errorf("unexpected stream: %q", data)
	}
}

func TestStreamChatCompletionStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := upstream.New(srv.URL, "")
	_, err := c.StreamChatCompletion(context.Background(), []byte(`{}`))

	var statusErr *upstream.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", statusErr.StatusCode)
	}
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/models" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"data":[{"id":"llama-3-70b"}]}`))
	}))
	defer srv.Close()

	c := upstream.New(srv.URL, "")
	data, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != `{"data":[{"id":"llama-3-70b"}]}` {
		t.Errorf("unexpected response: %s", data)
	}
}
