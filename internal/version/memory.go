package version

import (
	"context"
	"sync"
)

// MemoryStore keeps versions in process memory. Used by tests and dry runs.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]Version
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]Version)}
}

func (s *MemoryStore) Commit(ctx context.Context, doc, content string) (Version, error) {
	if err := ctx.Err(); err != nil {
		return Version{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v := newVersion(doc, len(s.docs[doc])+1, content)
	s.docs[doc] = append(s.docs[doc], v)
	return v, nil
}

func (s *MemoryStore) Latest(_ context.Context, doc string) (Version, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vs := s.docs[doc]
	if len(vs) == 0 {
		return Version{}, false, nil
	}
	return vs[len(vs)-1], true, nil
}

func (s *MemoryStore) History(_ context.Context, doc string) ([]Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Version(nil), s.docs[doc]...), nil
}

func (s *MemoryStore) Get(_ context.Context, doc string, seq int) (Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vs := s.docs[doc]
	if seq < 1 || seq > len(vs) {
		return Version{}, ErrNotFound
	}
	return vs[seq-1], nil
}
