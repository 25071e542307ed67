package keymanager

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mr-tron/base58"

	"walletid/internal/keystore"
	"walletid/internal/storage"
)

func newSeed(t *testing.T) []byte {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		t.Fatalf("read seed: %v", err)
	}
	return seed
}

func TestStoreKeyRequiresChallengeForPasswordAndPin(t *testing.T) {
	ctx := context.Background()
	m := New(Config{})
	for _, level := range []keystore.Level{keystore.LevelPassword, keystore.LevelPin} {
		if _, err := m.StoreKey(ctx, level, newSeed(t), ""); !errors.Is(err, ErrChallengeMissing) {
			t.Fatalf("level %s: expected ErrChallengeMissing, got %v", level, err)
		}
	}
	// Platform-delegated levels need no challenge.
	if _, err := m.StoreKey(ctx, keystore.LevelBiometric, newSeed(t), ""); err != nil {
		t.Fatalf("biometric store failed: %v", err)
	}
	if _, err := m.StoreKey(ctx, keystore.LevelLocal, newSeed(t), ""); err != nil {
		t.Fatalf("local store failed: %v", err)
	}
}

func TestCheckKeyProbesWithoutThrowing(t *testing.T) {
	ctx := context.Background()
	m := New(Config{})
	if _, err := m.StoreKey(ctx, keystore.LevelPin, newSeed(t), "1234"); err != nil {
		t.Fatalf("store pin key: %v", err)
	}

	ok, err := m.CheckKey(ctx, keystore.LevelPin, "1234")
	if err != nil || !ok {
		t.Fatalf("correct pin must check true, got %v %v", ok, err)
	}
	ok, err = m.CheckKey(ctx, keystore.LevelPin, "9999")
	if err != nil {
		t.Fatalf("wrong pin must not error on check, got %v", err)
	}
	if ok {
		t.Fatal("wrong pin checked true")
	}

	if _, err := m.CheckKey(ctx, keystore.LevelLocal, "x"); !errors.Is(err, ErrInvalidKeyLevel) {
		t.Fatalf("expected ErrInvalidKeyLevel for local, got %v", err)
	}
	if _, err := m.CheckKey(ctx, keystore.LevelPin, ""); !errors.Is(err, ErrChallengeMissing) {
		t.Fatalf("expected ErrChallengeMissing, got %v", err)
	}
}

func TestSignDataRejectsWrongChallenge(t *testing.T) {
	ctx := context.Background()
	m := New(Config{})
	if _, err := m.StoreKey(ctx, keystore.LevelPassword, newSeed(t), "Str0ng!Pass"); err != nil {
		t.Fatalf("store password key: %v", err)
	}
	if _, err := m.StoreKey(ctx, keystore.LevelPin, newSeed(t), "1234"); err != nil {
		t.Fatalf("store pin key: %v", err)
	}

	if _, err := m.SignData(ctx, keystore.LevelPassword, []byte("data"), "wrong", FormatRaw); !errors.Is(err, ErrPasswordInvalid) {
		t.Fatalf("expected ErrPasswordInvalid, got %v", err)
	}
	if _, err := m.SignData(ctx, keystore.LevelPin, []byte("data"), "0000", FormatRaw); !errors.Is(err, ErrPinInvalid) {
		t.Fatalf("expected ErrPinInvalid, got %v", err)
	}
	if _, err := m.SignData(ctx, keystore.LevelPassword, []byte("data"), "", FormatRaw); !errors.Is(err, ErrChallengeMissing) {
		t.Fatalf("expected ErrChallengeMissing, got %v", err)
	}
}

func TestSignDataRawSignsDigest(t *testing.T) {
	ctx := context.Background()
	m := New(Config{})
	encoded, err := m.StoreKey(ctx, keystore.LevelLocal, newSeed(t), "")
	if err != nil {
		t.Fatalf("store key: %v", err)
	}
	pub, err := DecodePublicKey(encoded)
	if err != nil {
		t.Fatalf("decode public key: %v", err)
	}

	data := []byte("transaction bytes")
	sig, err := m.SignData(ctx, keystore.LevelLocal, data, "", FormatRaw)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	rawSig, err := base58.Decode(sig)
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	digest := sha256.Sum256(data)
	if !ed25519.Verify(pub, digest[:], rawSig) {
		t.Fatal("raw signature does not verify over the digest")
	}

	// An input that is already digest-sized is signed as-is.
	sig2, err := m.SignData(ctx, keystore.LevelLocal, digest[:], "", FormatRaw)
	if err != nil {
		t.Fatalf("sign digest failed: %v", err)
	}
	rawSig2, err := base58.Decode(sig2)
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	if !ed25519.Verify(pub, digest[:], rawSig2) {
		t.Fatal("pre-hashed input must be signed without re-hashing")
	}
}

func TestSignDataTokenIsVerifiableJWT(t *testing.T) {
	ctx := context.Background()
	m := New(Config{})
	encoded, err := m.StoreKey(ctx, keystore.LevelPassword, newSeed(t), "pw")
	if err != nil {
		t.Fatalf("store key: %v", err)
	}
	pub, err := DecodePublicKey(encoded)
	if err != nil {
		t.Fatalf("decode public key: %v", err)
	}

	token, err := m.SignData(ctx, keystore.LevelPassword, []byte(`{"purpose":"login"}`), "pw", FormatToken)
	if err != nil {
		t.Fatalf("sign token failed: %v", err)
	}
	parsed, err := jwt.Parse(token, func(*jwt.Token) (any, error) { return pub, nil },
		jwt.WithValidMethods([]string{"EdDSA"}))
	if err != nil {
		t.Fatalf("token does not verify: %v", err)
	}
	claims := parsed.Claims.(jwt.MapClaims)
	if claims["purpose"] != "login" {
		t.Fatalf("token claims lost payload: %v", claims)
	}
}

func TestRemoveKeyIdempotentAndGetKeyFails(t *testing.T) {
	ctx := context.Background()
	m := New(Config{})
	if _, err := m.StoreKey(ctx, keystore.LevelLocal, newSeed(t), ""); err != nil {
		t.Fatalf("store key: %v", err)
	}
	if err := m.RemoveKey(ctx, keystore.LevelLocal); err != nil {
		t.Fatalf("first remove failed: %v", err)
	}
	if err := m.RemoveKey(ctx, keystore.LevelLocal); err != nil {
		t.Fatalf("second remove must be idempotent: %v", err)
	}
	if _, err := m.GetKey(ctx, keystore.LevelLocal); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

var errStorageDown = errors.New("storage area unavailable")

type flakyStore struct {
	next storage.Store
	fail bool
}

func (s *flakyStore) Store(ctx context.Context, key string, value []byte) error {
	if s.fail {
		return errStorageDown
	}
	return s.next.Store(ctx, key, value)
}

func (s *flakyStore) Retrieve(ctx context.Context, key string) ([]byte, error) {
	return s.next.Retrieve(ctx, key)
}

func (s *flakyStore) Clear(ctx context.Context) error { return s.next.Clear(ctx) }

func TestStoreKeyRollsBackWhenMirrorWriteFails(t *testing.T) {
	ctx := context.Background()
	area := &flakyStore{next: storage.NewMemoryStore()}
	m := New(Config{BrowserLocal: area})

	area.fail = true
	if _, err := m.StoreKey(ctx, keystore.LevelBrowserLocal, newSeed(t), ""); !errors.Is(err, errStorageDown) {
		t.Fatalf("store key returned %v", err)
	}
	if _, err := m.GetKey(ctx, keystore.LevelBrowserLocal); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("failed store left a readable key: %v", err)
	}

	// An overwrite that fails to mirror keeps the previous key in place.
	area.fail = false
	first, err := m.StoreKey(ctx, keystore.LevelBrowserLocal, newSeed(t), "")
	if err != nil {
		t.Fatalf("store key: %v", err)
	}
	area.fail = true
	if _, err := m.StoreKey(ctx, keystore.LevelBrowserLocal, newSeed(t), ""); !errors.Is(err, errStorageDown) {
		t.Fatalf("overwrite returned %v", err)
	}
	got, err := m.GetKey(ctx, keystore.LevelBrowserLocal)
	if err != nil {
		t.Fatalf("get key: %v", err)
	}
	if got != first {
		t.Fatalf("failed overwrite replaced the key: %s vs %s", got, first)
	}
}

func TestBrowserLevelRepopulatesFromStorageArea(t *testing.T) {
	ctx := context.Background()
	area := storage.NewMemoryStore()

	first := New(Config{BrowserLocal: area})
	encoded, err := first.StoreKey(ctx, keystore.LevelBrowserLocal, newSeed(t), "")
	if err != nil {
		t.Fatalf("store key: %v", err)
	}

	// A fresh manager over the same storage area lazily recovers the record.
	second := New(Config{BrowserLocal: area})
	got, err := second.GetKey(ctx, keystore.LevelBrowserLocal)
	if err != nil {
		t.Fatalf("expected lazy repopulation, got %v", err)
	}
	if got != encoded {
		t.Fatalf("repopulated key mismatch: %s vs %s", got, encoded)
	}

	// RemoveKey clears the mirror too, so a third manager finds nothing.
	if err := second.RemoveKey(ctx, keystore.LevelBrowserLocal); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	third := New(Config{BrowserLocal: area})
	if _, err := third.GetKey(ctx, keystore.LevelBrowserLocal); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound after mirror clear, got %v", err)
	}
}

func TestRemoveAllKeysClearsEveryLevel(t *testing.T) {
	ctx := context.Background()
	m := New(Config{BrowserLocal: storage.NewMemoryStore(), BrowserSession: storage.NewMemoryStore()})
	challenges := map[keystore.Level]string{
		keystore.LevelPassword: "pw",
		keystore.LevelPin:      "1234",
	}
	for _, level := range keystore.Levels() {
		if _, err := m.StoreKey(ctx, level, newSeed(t), challenges[level]); err != nil {
			t.Fatalf("store %s: %v", level, err)
		}
	}
	if err := m.RemoveAllKeys(ctx); err != nil {
		t.Fatalf("remove all failed: %v", err)
	}
	for _, level := range keystore.Levels() {
		if _, err := m.GetKey(ctx, level); !errors.Is(err, ErrKeyNotFound) {
			t.Fatalf("level %s: expected ErrKeyNotFound, got %v", level, err)
		}
	}
}

func TestPublicKeyEncodingRoundTrip(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	encoded := EncodePublicKey(pub)
	decoded, err := DecodePublicKey(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !pub.Equal(decoded) {
		t.Fatal("round trip lost key bytes")
	}
	if _, err := DecodePublicKey("nonsense"); !errors.Is(err, ErrInvalidPublicKey) {
		t.Fatalf("expected ErrInvalidPublicKey, got %v", err)
	}
}
