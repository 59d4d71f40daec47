package feed

import (
	"context"
	"sync"
	"time"

	"tremor/pkg/models"
)

// Repository records the highest revision seen per identity, with a bounded
// retention window. Entries past the window may be forgotten; a long-silent
// identity re-admitted as New afterwards is accepted, a resurrection inside
// the window is not.
type Repository interface {
	Get(ctx context.Context, id models.Identity) (revision int64, ok bool, err error)
	Put(ctx context.Context, id models.Identity, revision int64, ttl time.Duration) error
	Size(ctx context.Context) (int64, error)
}

type memoryEntry struct {
	revision  int64
	expiresAt time.Time
}

// MemoryRepository is the default in-process store. Eviction is lazy on read
// plus a periodic sweep.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries map[models.Identity]memoryEntry
	now     func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		entries: make(map[models.Identity]memoryEntry),
		now:     time.Now,
	}
}

func (r *MemoryRepository) Get(_ context.Context, id models.Identity) (int64, bool, error) {
	r.mu.RLock()
	entry, ok := r.entries[id]
	r.mu.RUnlock()

	if !ok {
		return 0, false, nil
	}
	if r.now().After(entry.expiresAt) {
		r.mu.Lock()
		// Re-check under the write lock, Put may have refreshed it.
		if e, still := r.entries[id]; still && r.now().After(e.expiresAt) {
			delete(r.entries, id)
		}
		r.mu.Unlock()
		return 0, false, nil
	}
	return entry.revision, true, nil
}

func (r *MemoryRepository) Put(_ context.Context, id models.Identity, revision int64, ttl time.Duration) error {
	r.mu.Lock()
	r.entries[id] = memoryEntry{revision: revision, expiresAt: r.now().Add(ttl)}
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) Size(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.entries)), nil
}

// Sweep removes expired entries. Called periodically so memory stays bounded
// even for identities that are never read again.
func (r *MemoryRepository) Sweep(_ context.Context) int {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, entry := range r.entries {
		if now.After(entry.expiresAt) {
			delete(r.entries, id)
			removed++
		}
	}
	return removed
}
