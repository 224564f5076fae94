// Package history exports swap and redeploy outcomes to external stores
// for audit. It never feeds state back into the manager.
package history

import (
	"context"
	"time"
)

// Kind is the operation an event describes.
type Kind string

const (
	KindSwap     Kind = "swap"
	KindRedeploy Kind = "redeploy"
)

// Event is one finished swap or redeploy attempt.
type Event struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	Slot       string    `json:"slot"` // active slot after a swap, target slot of a redeploy
	OK         bool      `json:"ok"`
	Reason     string    `json:"reason,omitempty"`
	Warning    string    `json:"warning,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}

// Reader is implemented by sinks that can list what they stored.
type Reader interface {
	Recent(ctx context.Context, limit int) ([]Event, error)
}
