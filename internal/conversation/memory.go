package conversation

import (
	"context"
	"slices"
	"sync"
)

// MemoryStore keeps the history in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	messages []Message
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{messages: applyOptions(opts).seed()}
}

func (s *MemoryStore) Messages(_ context.Context) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.messages), nil
}

func (s *MemoryStore) Append(_ context.Context, m Message) error {
	if err := validate(m); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
	return nil
}

func (s *MemoryStore) Replace(_ context.Context, id, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return replace(s.messages, id, content)
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func replace(messages []Message, id, content string) error {
	for i := range messages {
		if messages[i].ID == id {
			messages[i].Content = content
			return nil
		}
	}
	return ErrNotFound
}
