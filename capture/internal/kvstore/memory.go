package kvstore

import (
	"context"
	"sync"
)

// Memory is an in-process Store.
type Memory struct {
	mu     sync.RWMutex
	data   map[string][]byte
	inUse  int64
	quota  int64
	closed bool
}

// NewMemory creates a Memory store. quota is in bytes, 0 for unlimited.
func NewMemory(quota int64) *Memory {
	return &Memory{data: make(map[string][]byte), quota: quota}
}

func (m *Memory) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	old := len(m.data[key])
	if err := checkQuota(m.quota, m.inUse, old, len(value), key); err != nil {
		return err
	}
	m.data[key] = append([]byte(nil), value...)
	m.inUse += int64(len(value) - old)
	return nil
}

func (m *Memory) Get(_ context.Context, keys ...string) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			out[k] = append([]byte(nil), v...)
		}
	}
	return out, nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, k := range keys {
		m.inUse -= int64(len(m.data[k]))
		delete(m.data, k)
	}
	return nil
}

func (m *Memory) Stats(context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{Keys: len(m.data), BytesInUse: m.inUse, QuotaBytes: m.quota}, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.data = nil
	return nil
}
