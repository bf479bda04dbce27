// Package idempotency replays stored responses for repeated creation
// requests carrying the same X-Idempotency-Key.
package idempotency

import (
	"context"
	"sync"
	"time"
)

// Record holds a previously returned response.
type Record struct {
	StatusCode int       `json:"statusCode"`
	Response   []byte    `json:"response"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Store abstracts idempotency persistence. Get returns nil for unknown or
// expired keys.
type Store interface {
	Get(ctx context.Context, key string) (*Record, error)
	Save(ctx context.Context, key string, record Record) error
}

// MemoryStore is for tests and single-process dev runs; the registry is the
// durable record, so losing replay state on restart only costs a duplicate
// 201 body, never a duplicate escrow.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]Record)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.data[key]
	if !ok || time.Now().After(rec.ExpiresAt) {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) Save(_ context.Context, key string, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, rec := range m.data {
		if time.Now().After(rec.ExpiresAt) {
			delete(m.data, k)
		}
	}
	m.data[key] = record
	return nil
}
