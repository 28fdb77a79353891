package collab

// Store holds the shared record for a Repository. Implementations need not
// be safe for concurrent use; the Repository serializes access.
type Store interface {
	Load() SharedState
	Save(s SharedState)
}

// InMemoryStore keeps the record in process memory only. It is lost on
// restart.
type InMemoryStore struct {
	state SharedState
}

// NewInMemoryStore returns a store holding an empty record.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// Load implements Store.Load.
func (s *InMemoryStore) Load() SharedState {
	return s.state
}

// Save implements Store.Save.
func (s *InMemoryStore) Save(st SharedState) {
	s.state = st
}
