// Package sink announces capture outcomes: a result is ready to view, or
// a session failed. Backends are stdout JSON lines, a webhook and an
// in-process callback, fanned out by a Router.
package sink

import (
	"context"

	"github.com/hazyhaar/snapflow/capture/shot"
)

// Failed announces a session that ended in the Failed state.
type Failed struct {
	SessionID string    `json:"id"`
	Mode      shot.Mode `json:"mode"`
	URL       string    `json:"url,omitempty"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Timestamp int64     `json:"timestamp"` // epoch milliseconds
}

// Sink is an announcement backend.
type Sink interface {
	SendReady(ctx context.Context, r shot.Ready) error
	SendFailed(ctx context.Context, f Failed) error
	Close() error
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
