package collab

import (
	"sync"

	"curlsync/internal/protocol"
)

// Repository defines the concurrency-safe contract for reading and mutating
// the shared record.
type Repository interface {
	// Snapshot returns a copy of the current record.
	Snapshot() SharedState

	// SetCapturedRequest replaces capturedRequest unconditionally.
	SetCapturedRequest(value string)

	// ApplyMeta sets each field present in p and leaves the others alone.
	ApplyMeta(p protocol.MetaPatch)

	// Replace overwrites the whole record.
	Replace(s SharedState)
}

// InMemoryRepository is a concurrency-safe Repository over a Store; by
// default that is an InMemoryStore.
type InMemoryRepository struct {
	mu    sync.RWMutex
	store Store
}

// NewInMemoryRepository constructs a repository with a default in-memory store.
func NewInMemoryRepository() *InMemoryRepository {
	return NewInMemoryRepositoryWithStore(NewInMemoryStore())
}

// NewInMemoryRepositoryWithStore constructs a repository that uses the given Store.
func NewInMemoryRepositoryWithStore(store Store) *InMemoryRepository {
	return &InMemoryRepository{store: store}
}

// Snapshot implements Repository.Snapshot.
func (r *InMemoryRepository) Snapshot() SharedState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.Load()
}

// SetCapturedRequest implements Repository.SetCapturedRequest.
func (r *InMemoryRepository) SetCapturedRequest(value string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.store.Load()
	st.CapturedRequest = value
	r.store.Save(st)
}

// ApplyMeta implements Repository.ApplyMeta.
func (r *InMemoryRepository) ApplyMeta(p protocol.MetaPatch) {
	if p.Empty() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.store.Load()
	st.applyMeta(p)
	r.store.Save(st)
}

// Replace implements Repository.Replace.
func (r *InMemoryRepository) Replace(s SharedState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store.Save(s)
}
