package registry

import (
	"context"
	"sync"
)

// Backend is the storage layer beneath the registry. Load returns a consistent
// snapshot; Mutate runs fn under the exclusive registration lock and persists
// when fn reports dirty; AllocateView runs fn against a snapshot under the
// exclusive port-allocation lock without persisting.
//
// The file backend maps these to OS advisory file locks so the store is safe
// against concurrent launcher processes, not just goroutines.
type Backend interface {
	Load(ctx context.Context) (map[string]*Specialist, error)
	Mutate(ctx context.Context, fn func(specialists map[string]*Specialist) (dirty bool, err error)) error
	AllocateView(ctx context.Context, fn func(specialists map[string]*Specialist) error) error
}

// MemoryBackend is an in-process Backend used by tests and embedded setups.
type MemoryBackend struct {
	mu          sync.Mutex
	specialists map[string]*Specialist
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{specialists: make(map[string]*Specialist)}
}

// Load returns a deep copy of the current state.
func (b *MemoryBackend) Load(_ context.Context) (map[string]*Specialist, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshot(), nil
}

// Mutate runs fn against a copy of the state and commits it when fn reports
// dirty. A failed fn leaves the state untouched.
func (b *MemoryBackend) Mutate(_ context.Context, fn func(map[string]*Specialist) (bool, error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	working := b.snapshot()
	dirty, err := fn(working)
	if err != nil {
		return err
	}
	if dirty {
		b.specialists = working
	}
	return nil
}

// AllocateView runs fn against a copy of the state while holding the backend
// mutex, serializing concurrent port allocations.
func (b *MemoryBackend) AllocateView(_ context.Context, fn func(map[string]*Specialist) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fn(b.snapshot())
}

func (b *MemoryBackend) snapshot() map[string]*Specialist {
	out := make(map[string]*Specialist, len(b.specialists))
	for id, s := range b.specialists {
		out[id] = s.Clone()
	}
	return out
}
