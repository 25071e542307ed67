package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore persists keys into a single encrypted snapshot file. Every write
// rewrites the snapshot; the data set is small (identity state and key
// mirrors), so simplicity wins over granularity.
type FileStore struct {
	mu     sync.Mutex
	path   string
	secret string
	loaded bool
	values map[string][]byte
}

func NewFileStore(path, secret string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	secret = strings.TrimSpace(secret)
	if path == "" || secret == "" {
		return nil, fmt.Errorf("%w: file store needs a path and a secret", ErrFailed)
	}
	return &FileStore{path: path, secret: secret, values: make(map[string][]byte)}, nil
}

func (s *FileStore) Store(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return err
	}
	s.values[key] = append([]byte(nil), value...)
	return s.persistLocked()
}

func (s *FileStore) Retrieve(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	value, ok := s.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[string][]byte)
	s.loaded = true
	return s.persistLocked()
}

// ClearScope removes only keys under the prefix and persists the result.
func (s *FileStore) ClearScope(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return err
	}
	for key := range s.values {
		if strings.HasPrefix(key, prefix) {
			delete(s.values, key)
		}
	}
	return s.persistLocked()
}

func (s *FileStore) loadLocked() error {
	if s.loaded {
		return nil
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.loaded = true
			return nil
		}
		return fmt.Errorf("%w: %v", ErrFailed, err)
	}
	plaintext, err := openEnvelope(s.secret, raw)
	if err != nil {
		return err
	}
	values := make(map[string][]byte)
	if err := json.Unmarshal(plaintext, &values); err != nil {
		return fmt.Errorf("%w: snapshot payload is invalid", ErrFailed)
	}
	s.values = values
	s.loaded = true
	return nil
}

func (s *FileStore) persistLocked() error {
	payload, err := json.Marshal(s.values)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFailed, err)
	}
	encrypted, err := sealEnvelope(s.secret, payload)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("%w: %v", ErrFailed, err)
	}
	if err := os.WriteFile(s.path, encrypted, 0o600); err != nil {
		return fmt.Errorf("%w: %v", ErrFailed, err)
	}
	return nil
}
