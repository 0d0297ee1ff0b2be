// Package cursorstore abstracts the last-processed nonce per shard. It
// offers an in-memory default and an optional pair of load/save callbacks
// supplied by the caller, so an embedding host can back the cursor with
// durable storage without the follower needing to know the storage engine.
package cursorstore

import (
	"context"
	"sync"
)

// Store abstracts the last-processed nonce per shard.
type Store interface {
	// LoadCursor returns the persisted nonce for shardID, or ok=false if
	// none has ever been saved.
	LoadCursor(ctx context.Context, shardID uint32, currentNonce uint64) (nonce uint64, ok bool, err error)
	// SaveCursor persists nonce as the last-processed nonce for shardID.
	SaveCursor(ctx context.Context, shardID uint32, nonce uint64) error
}

// MemoryStore is the process-local default: a shard-id-keyed map guarded
// by a mutex, live for the lifetime of the process.
type MemoryStore struct {
	mu      sync.Mutex
	cursors map[uint32]uint64
}

// NewMemoryStore constructs an empty in-memory cursor store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cursors: make(map[uint32]uint64)}
}

func (s *MemoryStore) LoadCursor(_ context.Context, shardID uint32, _ uint64) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nonce, ok := s.cursors[shardID]
	return nonce, ok, nil
}

func (s *MemoryStore) SaveCursor(_ context.Context, shardID uint32, nonce uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[shardID] = nonce
	return nil
}

// LoadFunc and SaveFunc are the external cursor read/write callbacks a
// caller may supply in place of the in-memory default, so the last
// processed nonce can live in durable storage across process restarts.
type LoadFunc func(ctx context.Context, shardID uint32, currentNonce uint64) (uint64, bool, error)
type SaveFunc func(ctx context.Context, shardID uint32, nonce uint64) error

// FuncStore adapts a pair of externally supplied callbacks to Store. A nil
// field falls back to the equivalent MemoryStore behavior, so a caller can
// override just one side (e.g. custom persistence on save, default load).
type FuncStore struct {
	Load LoadFunc
	Save SaveFunc

	fallback *MemoryStore
}

// NewFuncStore builds a FuncStore, allocating the in-memory fallback used
// for whichever side is left nil.
func NewFuncStore(load LoadFunc, save SaveFunc) *FuncStore {
	return &FuncStore{Load: load, Save: save, fallback: NewMemoryStore()}
}

func (s *FuncStore) LoadCursor(ctx context.Context, shardID uint32, currentNonce uint64) (uint64, bool, error) {
	if s.Load != nil {
		return s.Load(ctx, shardID, currentNonce)
	}
	return s.fallback.LoadCursor(ctx, shardID, currentNonce)
}

func (s *FuncStore) SaveCursor(ctx context.Context, shardID uint32, nonce uint64) error {
	if s.Save != nil {
		return s.Save(ctx, shardID, nonce)
	}
	return s.fallback.SaveCursor(ctx, shardID, nonce)
}
