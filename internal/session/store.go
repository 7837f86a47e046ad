// Package session persists completed exchanges so they can be listed and
// reviewed later. The engine itself never touches this package; the CLI
// saves each exchange after it finishes.
package session

import (
	"context"
	"time"
)

// Exchange is one stored chat exchange.
type Exchange struct {
	ID           string    `json:"id"`
	Model        string    `json:"model"`
	Think        string    `json:"think,omitempty"`
	Prompt       string    `json:"prompt"`
	Transcript   string    `json:"transcript"`
	Truncated    bool      `json:"truncated,omitempty"`
	InputTokens  int       `json:"input_tokens,omitempty"`
	OutputTokens int       `json:"output_tokens,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store persists exchanges.
type Store interface {
	Save(ctx context.Context, exchange Exchange) error
	List(ctx context.Context, limit int) ([]Exchange, error)
	Close() error
}

// NoopStore discards everything. Used when persistence is disabled.
type NoopStore struct{}

func (NoopStore) Save(ctx context.Context, exchange Exchange) error { return nil }

func (NoopStore) List(ctx context.Context, limit int) ([]Exchange, error) { return nil, nil }

func (NoopStore) Close() error { return nil }
