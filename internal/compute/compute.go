// Package compute talks to the provider hosting the inference server's
// compute instance. The instance is expensive while running, so the
// lifecycle monitor stops it when idle and admins can start it on demand.
package compute

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// State is the instance run state as reported by the provider.
type State string

const (
	StateStopped  State = "stopped"
	StatePending  State = "pending"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Instance describes the current run state of the managed instance.
// StartedAt is the instant the current run began; zero when not running.
type Instance struct {
	State     State     `json:"state"`
	StartedAt time.Time `json:"started_at"`
}

// Running reports whether the instance is currently serving.
func (i Instance) Running() bool {
	return i.State == StateRunning
}

// Manager describes and controls one compute instance.
// Start and Stop are idempotent at the provider: repeating either against
// an instance already in (or moving toward) the target state is a no-op.
type Manager interface {
	Describe(ctx context.Context) (Instance, error)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// HTTPManager is a Manager over the provider's instance HTTP API.
type HTTPManager struct {
	baseURL string
	token   string
	client  *http.Client
}

// HTTPOption configures an HTTPManager.
type HTTPOption func(*HTTPManager)

// WithHTTPClient overrides the HTTP client. Used in tests.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(m *HTTPManager) {
		m.client = client
	}
}

// NewHTTPManager creates a Manager for the instance API at baseURL,
// authenticating with the given bearer token.
func NewHTTPManager(baseURL, token string, opts ...HTTPOption) *HTTPManager {
	m := &HTTPManager{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type instancePayload struct {
	State     string `json:"state"`
	StartedAt int64  `json:"started_at"`
}

// Describe returns the instance's current run state and start time.
func (m *HTTPManager) Describe(ctx context.Context) (Instance, error) {
	body, err := m.do(ctx, http.MethodGet, "/instance", nil)
	if err != nil {
		return Instance{}, err
	}

	var payload instancePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Instance{}, fmt.Errorf("decode instance state: %w", err)
	}

	inst := Instance{State: State(payload.State)}
	if payload.StartedAt > 0 {
		inst.StartedAt = time.Unix(payload.StartedAt, 0)
	}
	return inst, nil
}

// Start requests that the instance be started.
func (m *HTTPManager) Start(ctx context.Context) error {
	_, err := m.do(ctx, http.MethodPost, "/instance/start", nil)
	return err
}

// Stop requests that the instance be stopped.
func (m *HTTPManager) Stop(ctx context.Context) error {
	_, err := m.do(ctx, http.MethodPost, "/instance/stop", nil)
	return err
}

func (m *HTTPManager) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build instance request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("instance API %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read instance API response: %w", err)
	}

	// 409 means the instance is already in or moving toward the requested
	// state; the provider treats repeat commands as no-ops.
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusConflict {
		return nil, fmt.Errorf("instance API %s %s: status %d: %s", method, path, resp.StatusCode, body)
	}
	return body, nil
}
