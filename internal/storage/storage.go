// Package storage is the persistent key-value collaborator: asynchronous
// store/retrieve/clear, namespaced by a caller-supplied scope prefix. All
// suspension happens behind these explicit calls; there is no implicit
// interception or hidden caching.
package storage

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("storage: key not found")
	ErrFailed   = errors.New("storage: operation failed")
)

// Store is the collaborator contract. Implementations must be safe for
// concurrent use.
type Store interface {
	Store(ctx context.Context, key string, value []byte) error
	Retrieve(ctx context.Context, key string) ([]byte, error)
	Clear(ctx context.Context) error
}

// Namespaced returns a view of next that prefixes every key with scope and
// clears only its own keys.
func Namespaced(next Store, scope string) Store {
	return &namespacedStore{next: next, scope: scope}
}

type namespacedStore struct {
	next  Store
	scope string
}

func (s *namespacedStore) key(key string) string {
	return fmt.Sprintf("%s/%s", s.scope, key)
}

func (s *namespacedStore) Store(ctx context.Context, key string, value []byte) error {
	return s.next.Store(ctx, s.key(key), value)
}

func (s *namespacedStore) Retrieve(ctx context.Context, key string) ([]byte, error) {
	return s.next.Retrieve(ctx, s.key(key))
}

func (s *namespacedStore) Clear(ctx context.Context) error {
	if scoped, ok := s.next.(interface {
		ClearScope(ctx context.Context, prefix string) error
	}); ok {
		return scoped.ClearScope(ctx, s.scope+"/")
	}
	return s.next.Clear(ctx)
}
