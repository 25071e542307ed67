package keystore

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
)

func TestLevelIndexTableIsStable(t *testing.T) {
	// These indices are persisted and transmitted. A failure here means a
	// source reorder silently changed the wire contract.
	expected := map[Level]int{
		LevelPassword:       0,
		LevelPin:            1,
		LevelBiometric:      2,
		LevelLocal:          3,
		LevelBrowserLocal:   4,
		LevelBrowserSession: 5,
	}
	if len(Levels()) != len(expected) {
		t.Fatalf("expected %d levels, got %d", len(expected), len(Levels()))
	}
	for level, index := range expected {
		if int(level) != index {
			t.Fatalf("level %s has index %d, expected %d", level, int(level), index)
		}
		parsed, err := ParseLevel(index)
		if err != nil {
			t.Fatalf("parse level %d: %v", index, err)
		}
		if parsed != level {
			t.Fatalf("index %d parsed to %s, expected %s", index, parsed, level)
		}
	}
	if _, err := ParseLevel(len(expected)); err == nil {
		t.Fatal("expected error for undeclared level index")
	}
}

func TestChallengePolicyPerLevel(t *testing.T) {
	for _, level := range Levels() {
		requires := level == LevelPassword || level == LevelPin
		if level.RequiresChallenge() != requires {
			t.Fatalf("level %s challenge policy mismatch", level)
		}
		browser := level == LevelBrowserLocal || level == LevelBrowserSession
		if level.BrowserBacked() != browser {
			t.Fatalf("level %s browser policy mismatch", level)
		}
	}
}

func TestStorePutGetDeleteIdempotent(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	s := New()
	s.Put(Record{Level: LevelLocal, PrivateKey: priv, PublicKey: pub})

	rec, ok := s.Get(LevelLocal)
	if !ok {
		t.Fatal("expected stored record")
	}
	// Mutating the returned copy must not affect the stored record.
	rec.PrivateKey[0] ^= 0xff
	again, _ := s.Get(LevelLocal)
	if again.PrivateKey[0] == rec.PrivateKey[0] {
		t.Fatal("store returned aliased key material")
	}

	s.Delete(LevelLocal)
	s.Delete(LevelLocal) // second delete must not panic or error
	if _, ok := s.Get(LevelLocal); ok {
		t.Fatal("record must be gone after delete")
	}
}

func TestClearRemovesEveryLevel(t *testing.T) {
	s := New()
	for _, level := range Levels() {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		s.Put(Record{Level: level, PrivateKey: priv, PublicKey: pub})
	}
	if got := len(s.StoredLevels()); got != len(Levels()) {
		t.Fatalf("expected %d stored levels, got %d", len(Levels()), got)
	}
	s.Clear()
	if got := len(s.StoredLevels()); got != 0 {
		t.Fatalf("expected empty store after clear, got %d levels", got)
	}
}
