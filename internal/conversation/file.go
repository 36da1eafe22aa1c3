package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

// FileStore keeps the history in memory and persists it as a single JSON
// document. The file is read once at open and rewritten after every change.
type FileStore struct {
	mu       sync.Mutex
	path     string
	messages []Message
}

var _ Store = (*FileStore)(nil)

type fileState struct {
	Messages []Message `json:"messages"`
}

// NewFileStore opens the store at path, creating its directory when needed.
// A missing file starts a new conversation.
func NewFileStore(path string, opts ...Option) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("file store requires a path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	s := &FileStore{path: path}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		s.messages = applyOptions(opts).seed()
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read store: %w", err)
	}

	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse store %s: %w", path, err)
	}
	s.messages = state.Messages
	return s, nil
}

func (s *FileStore) Messages(_ context.Context) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages), nil
}

func (s *FileStore) Append(_ context.Context, m Message) error {
	if err := validate(m); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(append(slices.Clone(s.messages), m))
}

func (s *FileStore) Replace(_ context.Context, id, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := slices.Clone(s.messages)
	if err := replace(next, id, content); err != nil {
		return err
	}
	return s.commit(next)
}

func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(nil)
}

func (s *FileStore) Close() error {
	return nil
}

// commit writes messages and adopts them only once the file is replaced.
func (s *FileStore) commit(messages []Message) error {
	if err := s.save(messages); err != nil {
		return err
	}
	s.messages = messages
	return nil
}

// save replaces the file atomically.
func (s *FileStore) save(messages []Message) error {
	data, err := json.MarshalIndent(fileState{Messages: messages}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".conversation-*")
	if err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	return nil
}
