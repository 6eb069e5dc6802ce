package sink

import (
	"context"

	"github.com/hazyhaar/snapflow/capture/shot"
)

// Callback delivers announcements as in-process function calls. Either
// function may be nil.
type Callback struct {
	OnReady  func(ctx context.Context, r shot.Ready) error
	OnFailed func(ctx context.Context, f Failed) error
}

func (c *Callback) SendReady(ctx context.Context, r shot.Ready) error {
	if c.OnReady == nil {
		return nil
	}
	return c.OnReady(ctx, r)
}

func (c *Callback) SendFailed(ctx context.Context, f Failed) error {
	if c.OnFailed == nil {
		return nil
	}
	return c.OnFailed(ctx, f)
}

func (c *Callback) Close() error { return nil }
