// Package convo persists conversation history in the key-value store.
// Records are JSON-encoded per conversation, with a per-user sorted index
// ordered by last update for listing.
package convo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nhalm/infergate/internal/store"
)

// ErrNotFound is returned when a conversation does not exist or is not
// owned by the requesting user.
var ErrNotFound = errors.New("conversation not found")

// Message is one turn in a conversation.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Conversation is a persisted chat history for one user.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title,omitempty"`
	Model     string    `json:"model,omitempty"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Repo stores conversations. Ownership is part of the key, so one user can
// never read or mutate another user's conversations.
type Repo struct {
	store store.Store
	now   func() time.Time
}

// Option configures a Repo.
type Option func(*Repo)

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(r *Repo) {
		r.now = now
	}
}

// NewRepo creates a Repo over the given store.
func NewRepo(st store.Store, opts ...Option) *Repo {
	r := &Repo{
		store: st,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func recordKey(userID, id string) string {
	return "convo:" + userID + ":" + id
}

func indexKey(userID string) string {
	return "convo_index:" + userID
}

// Create starts a new empty conversation.
func (r *Repo) Create(ctx context.Context, userID, title, model string) (*Conversation, error) {
	now := r.now().UTC()
	conv := &Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		Model:     model,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.save(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// Get returns the conversation with the given id owned by userID.
func (r *Repo) Get(ctx context.Context, userID, id string) (*Conversation, error) {
	raw, found, err := r.store.Get(ctx, recordKey(userID, id))
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if !found {
		return nil, ErrNotFound
	}

	var conv Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", id, err)
	}
	return &conv, nil
}

// List returns up to limit of the user's conversations, most recently
// updated first.
func (r *Repo) List(ctx context.Context, userID string, limit int64) ([]*Conversation, error) {
	ids, err := r.store.IndexScan(ctx, indexKey(userID), limit)
	if err != nil {
		return nil, fmt.Errorf("scan conversation index: %w", err)
	}

	convs := make([]*Conversation, 0, len(ids))
	for _, id := range ids {
		conv, err := r.Get(ctx, userID, id)
		if errors.Is(err, ErrNotFound) {
			// Stale index entry; the record was deleted or expired.
			continue
		}
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, nil
}

// Append adds a message to the conversation and bumps its update time.
func (r *Repo) Append(ctx context.Context, userID, id string, msg Message) (*Conversation, error) {
	conv, err := r.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	now := r.now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = now

	if err := r.save(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// Delete removes the conversation and its index entry.
func (r *Repo) Delete(ctx context.Context, userID, id string) error {
	if _, err := r.Get(ctx, userID, id); err != nil {
		return err
	}
	if err := r.store.Delete(ctx, recordKey(userID, id)); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if err := r.store.IndexRemove(ctx, indexKey(userID), id); err != nil {
		return fmt.Errorf("unindex conversation: %w", err)
	}
	return nil
}

func (r *Repo) save(ctx context.Context, conv *Conversation) error {
	raw, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	if err := r.store.Set(ctx, recordKey(conv.UserID, conv.ID), raw, 0); err != nil {
		return fmt.Errorf("store conversation: %w", err)
	}
	if err := r.store.IndexAdd(ctx, indexKey(conv.UserID), conv.ID, float64(conv.UpdatedAt.Unix())); err != nil {
		return fmt.Errorf("index conversation: %w", err)
	}
	return nil
}
