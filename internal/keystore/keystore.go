package keystore

import (
	"crypto/ed25519"
	"sync"
)

// Record holds the key material stored for one level. The salt/hash pair is
// present only for challenge-protected levels; the raw challenge itself is
// never kept.
type Record struct {
	Level         Level
	PrivateKey    ed25519.PrivateKey
	PublicKey     ed25519.PublicKey
	ChallengeHash string
	Salt          []byte
}

// Clone returns a deep copy so callers cannot alias stored key material.
func (r Record) Clone() Record {
	out := Record{
		Level:         r.Level,
		ChallengeHash: r.ChallengeHash,
	}
	if len(r.PrivateKey) > 0 {
		out.PrivateKey = append(ed25519.PrivateKey(nil), r.PrivateKey...)
	}
	if len(r.PublicKey) > 0 {
		out.PublicKey = append(ed25519.PublicKey(nil), r.PublicKey...)
	}
	if len(r.Salt) > 0 {
		out.Salt = append([]byte(nil), r.Salt...)
	}
	return out
}

// Store keeps at most one record per level. One store belongs to exactly one
// key manager; it is safe for concurrent use but never shared across
// identities.
type Store struct {
	mu      sync.RWMutex
	records map[Level]Record
}

func New() *Store {
	return &Store{records: make(map[Level]Record)}
}

func (s *Store) Put(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Level] = rec.Clone()
}

func (s *Store) Get(level Level) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[level]
	if !ok {
		return Record{}, false
	}
	return rec.Clone(), true
}

// Delete is idempotent.
func (s *Store) Delete(level Level) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[level]; ok {
		zeroKey(rec.PrivateKey)
	}
	delete(s.records, level)
}

// StoredLevels returns the levels that currently hold a record, in stable
// index order.
func (s *Store) StoredLevels() []Level {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Level, 0, len(s.records))
	for _, level := range Levels() {
		if _, ok := s.records[level]; ok {
			out = append(out, level)
		}
	}
	return out
}

// Clear removes every record, zeroing private key bytes first.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for level, rec := range s.records {
		zeroKey(rec.PrivateKey)
		delete(s.records, level)
	}
}

func zeroKey(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
