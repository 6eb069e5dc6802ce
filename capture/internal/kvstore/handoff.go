package kvstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/snapflow/capture/shot"
)

// Handoffs are stored as two values so the result view can read the
// metadata without pulling every tile.
func metaKey(id string) string  { return "meta:" + id }
func tilesKey(id string) string { return "tiles:" + id }

// Bridge stores capture handoffs in a Store.
type Bridge struct {
	Store Store
}

// SaveHandoff writes tiles, then metadata. A handoff whose metadata is
// missing does not exist, so a failed write never leaves a readable half.
// Every failure wraps shot.ErrStorageFailure.
func (b Bridge) SaveHandoff(ctx context.Context, h *shot.Handoff) error {
	tiles, err := json.Marshal(h.Tiles)
	if err != nil {
		return fmt.Errorf("kvstore: %w: encode tiles: %w", shot.ErrStorageFailure, err)
	}
	meta, err := json.Marshal(h.Meta())
	if err != nil {
		return fmt.Errorf("kvstore: %w: encode meta: %w", shot.ErrStorageFailure, err)
	}
	if err := b.Store.Put(ctx, tilesKey(h.SessionID), tiles); err != nil {
		return fmt.Errorf("kvstore: %w: %w", shot.ErrStorageFailure, err)
	}
	if err := b.Store.Put(ctx, metaKey(h.SessionID), meta); err != nil {
		_ = b.Store.Delete(ctx, tilesKey(h.SessionID))
		return fmt.Errorf("kvstore: %w: %w", shot.ErrStorageFailure, err)
	}
	return nil
}

// LoadMeta reads a handoff without its tiles.
func (b Bridge) LoadMeta(ctx context.Context, id string) (shot.Meta, error) {
	vals, err := b.Store.Get(ctx, metaKey(id))
	if err != nil {
		return shot.Meta{}, fmt.Errorf("kvstore: %w: %w", shot.ErrStorageFailure, err)
	}
	raw, ok := vals[metaKey(id)]
	if !ok {
		return shot.Meta{}, fmt.Errorf("%w: capture %s", ErrNotFound, id)
	}
	var m shot.Meta
	if err := json.Unmarshal(raw, &m); err != nil {
		return shot.Meta{}, fmt.Errorf("kvstore: decode meta %s: %w", id, err)
	}
	return m, nil
}

// LoadHandoff reads a complete handoff.
func (b Bridge) LoadHandoff(ctx context.Context, id string) (*shot.Handoff, error) {
	vals, err := b.Store.Get(ctx, metaKey(id), tilesKey(id))
	if err != nil {
		return nil, fmt.Errorf("kvstore: %w: %w", shot.ErrStorageFailure, err)
	}
	rawMeta, ok := vals[metaKey(id)]
	if !ok {
		return nil, fmt.Errorf("%w: capture %s", ErrNotFound, id)
	}
	var m shot.Meta
	if err := json.Unmarshal(rawMeta, &m); err != nil {
		return nil, fmt.Errorf("kvstore: decode meta %s: %w", id, err)
	}
	h := &shot.Handoff{
		SessionID: m.SessionID,
		Mode:      m.Mode,
		URL:       m.URL,
		Title:     m.Title,
		Metrics:   m.Metrics,
		Region:    m.Region,
		SavedAt:   m.SavedAt,
	}
	if err := json.Unmarshal(vals[tilesKey(id)], &h.Tiles); err != nil {
		return nil, fmt.Errorf("kvstore: decode tiles %s: %w", id, err)
	}
	if len(h.Tiles) != m.TileCount {
		return nil, fmt.Errorf("kvstore: capture %s has %d tiles, meta says %d", id, len(h.Tiles), m.TileCount)
	}
	return h, nil
}

// DeleteHandoff removes a handoff.
func (b Bridge) DeleteHandoff(ctx context.Context, id string) error {
	return b.Store.Delete(ctx, metaKey(id), tilesKey(id))
}
