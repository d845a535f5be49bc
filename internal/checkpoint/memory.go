package checkpoint

import "sync"

// MemoryStore keeps the checkpoint in memory, encoded the same way the
// filesystem store does so a loaded job never aliases the saved one.
// This implementation is safe for concurrent use.
type MemoryStore struct {
	mu   sync.Mutex
	data []byte
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Save(cp *Checkpoint) error {
	data, err := encode(cp)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
	return nil
}

func (s *MemoryStore) Load() (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, ErrNotFound
	}
	return decode(s.data)
}

func (s *MemoryStore) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = nil
	return nil
}
