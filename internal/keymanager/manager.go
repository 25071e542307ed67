// Package keymanager provides per-level secret custody and signing. Raw
// private keys never leave the package boundary; callers get public keys,
// signatures and boolean checks.
package keymanager

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/argon2"

	"walletid/internal/keystore"
	"walletid/internal/storage"
)

var (
	ErrChallengeMissing = errors.New("challenge is required for this key level")
	ErrInvalidKeyLevel  = errors.New("operation is not defined for this key level")
	ErrKeyNotFound      = errors.New("no key stored for this level")
	ErrPasswordInvalid  = errors.New("password does not match the stored key")
	ErrPinInvalid       = errors.New("pin does not match the stored key")
	ErrInvalidKey       = errors.New("private key must be an ed25519 seed or private key")
)

// SignatureFormat selects the SignData output shape.
type SignatureFormat int

const (
	// FormatToken emits a compact signed token whose claims are the JSON
	// object passed as data.
	FormatToken SignatureFormat = iota
	// FormatRaw signs a 32-byte digest of data (hashing first unless data is
	// already digest-sized) and emits the base58 signature.
	FormatRaw
)

const (
	mirrorScope = "walletid/keys"
	saltSize    = 16

	challengeHashTime     = uint32(2)
	challengeHashMemoryKB = uint32(64 * 1024)
	challengeHashThreads  = uint8(1)
	challengeHashLen      = uint32(32)
)

// Config wires the externally provided storage areas for browser-backed
// levels. Both are optional; without them those levels live in memory only.
type Config struct {
	BrowserLocal   storage.Store
	BrowserSession storage.Store
	Logger         *slog.Logger
}

// Manager owns exactly one key store. One manager per identity; managers are
// never shared.
type Manager struct {
	store   *keystore.Store
	mirrors map[keystore.Level]storage.Store
	log     *slog.Logger
}

func New(cfg Config) *Manager {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	mirrors := make(map[keystore.Level]storage.Store)
	if cfg.BrowserLocal != nil {
		mirrors[keystore.LevelBrowserLocal] = storage.Namespaced(cfg.BrowserLocal, mirrorScope)
	}
	if cfg.BrowserSession != nil {
		mirrors[keystore.LevelBrowserSession] = storage.Namespaced(cfg.BrowserSession, mirrorScope)
	}
	return &Manager{
		store:   keystore.New(),
		mirrors: mirrors,
		log:     log,
	}
}

// StoreKey stores private key material at the given level and returns the
// encoded public key. For challenge-protected levels the challenge is
// mandatory: a fresh salt is generated and only hash(challenge, salt) is
// kept, never the challenge itself.
func (m *Manager) StoreKey(ctx context.Context, level keystore.Level, privateKey []byte, challenge string) (string, error) {
	if !level.Valid() {
		return "", ErrInvalidKeyLevel
	}
	priv, err := normalizePrivateKey(privateKey)
	if err != nil {
		return "", err
	}
	rec := keystore.Record{
		Level:      level,
		PrivateKey: priv,
		PublicKey:  priv.Public().(ed25519.PublicKey),
	}
	if level.RequiresChallenge() {
		if challenge == "" {
			return "", ErrChallengeMissing
		}
		salt := make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return "", err
		}
		rec.Salt = salt
		rec.ChallengeHash = hashChallenge(challenge, salt)
	}
	prev, hadPrev := m.store.Get(level)
	m.store.Put(rec)
	if err := m.mirrorPut(ctx, rec); err != nil {
		// A failed mirror write must not leave the level readable with a key
		// the caller was told did not stick.
		if hadPrev {
			m.store.Put(prev)
		} else {
			m.store.Delete(level)
		}
		return "", err
	}
	m.log.Debug("key stored", "level", level.String())
	return EncodePublicKey(rec.PublicKey), nil
}

// SignData signs data with the key stored at level. Challenge-protected
// levels re-derive the salted hash and refuse to sign on mismatch.
func (m *Manager) SignData(ctx context.Context, level keystore.Level, data []byte, challenge string, format SignatureFormat) (string, error) {
	rec, err := m.lookup(ctx, level)
	if err != nil {
		return "", err
	}
	if level.RequiresChallenge() {
		if challenge == "" {
			return "", ErrChallengeMissing
		}
		if !challengeMatches(rec, challenge) {
			return "", challengeError(level)
		}
	}
	switch format {
	case FormatToken:
		return signToken(rec.PrivateKey, data)
	case FormatRaw:
		digest := data
		if len(digest) != sha256.Size {
			sum := sha256.Sum256(data)
			digest = sum[:]
		}
		return base58.Encode(ed25519.Sign(rec.PrivateKey, digest)), nil
	default:
		return "", fmt.Errorf("unknown signature format %d", format)
	}
}

// GetKey returns the encoded public key for the level.
func (m *Manager) GetKey(ctx context.Context, level keystore.Level) (string, error) {
	rec, err := m.lookup(ctx, level)
	if err != nil {
		return "", err
	}
	return EncodePublicKey(rec.PublicKey), nil
}

// CheckKey probes a challenge without side effects. Unlike SignData it
// reports a mismatch as false rather than an error, so callers can validate
// before committing to an operation with downstream effects.
func (m *Manager) CheckKey(ctx context.Context, level keystore.Level, challenge string) (bool, error) {
	if !level.RequiresChallenge() {
		return false, ErrInvalidKeyLevel
	}
	if challenge == "" {
		return false, ErrChallengeMissing
	}
	rec, err := m.lookup(ctx, level)
	if err != nil {
		return false, err
	}
	return challengeMatches(rec, challenge), nil
}

// RemoveKey deletes the level's record and any storage mirror. Idempotent.
func (m *Manager) RemoveKey(ctx context.Context, level keystore.Level) error {
	if !level.Valid() {
		return ErrInvalidKeyLevel
	}
	m.store.Delete(level)
	if mirror, ok := m.mirrors[level]; ok {
		if err := mirror.Store(ctx, mirrorKey(level), nil); err != nil {
			return err
		}
	}
	return nil
}

// RemoveAllKeys purges every level including storage mirrors. Logout path.
func (m *Manager) RemoveAllKeys(ctx context.Context) error {
	m.store.Clear()
	for _, mirror := range m.mirrors {
		if err := mirror.Clear(ctx); err != nil {
			return err
		}
	}
	return nil
}

// StoredLevels lists levels that currently hold a key, in index order.
func (m *Manager) StoredLevels() []keystore.Level {
	return m.store.StoredLevels()
}

func (m *Manager) lookup(ctx context.Context, level keystore.Level) (keystore.Record, error) {
	if !level.Valid() {
		return keystore.Record{}, ErrInvalidKeyLevel
	}
	if rec, ok := m.store.Get(level); ok {
		return rec, nil
	}
	// Browser-backed levels may survive in their storage area even when the
	// in-memory store was torn down; repopulate before giving up.
	if rec, ok := m.mirrorGet(ctx, level); ok {
		m.store.Put(rec)
		return rec, nil
	}
	return keystore.Record{}, ErrKeyNotFound
}

type mirroredRecord struct {
	Level         int    `json:"level"`
	PrivateKey    []byte `json:"private_key"`
	ChallengeHash string `json:"challenge_hash,omitempty"`
	Salt          []byte `json:"salt,omitempty"`
}

func (m *Manager) mirrorPut(ctx context.Context, rec keystore.Record) error {
	mirror, ok := m.mirrors[rec.Level]
	if !ok {
		return nil
	}
	payload, err := json.Marshal(mirroredRecord{
		Level:         int(rec.Level),
		PrivateKey:    rec.PrivateKey,
		ChallengeHash: rec.ChallengeHash,
		Salt:          rec.Salt,
	})
	if err != nil {
		return err
	}
	return mirror.Store(ctx, mirrorKey(rec.Level), payload)
}

func (m *Manager) mirrorGet(ctx context.Context, level keystore.Level) (keystore.Record, bool) {
	mirror, ok := m.mirrors[level]
	if !ok {
		return keystore.Record{}, false
	}
	payload, err := mirror.Retrieve(ctx, mirrorKey(level))
	if err != nil || len(payload) == 0 {
		return keystore.Record{}, false
	}
	var stored mirroredRecord
	if err := json.Unmarshal(payload, &stored); err != nil {
		return keystore.Record{}, false
	}
	priv, err := normalizePrivateKey(stored.PrivateKey)
	if err != nil {
		return keystore.Record{}, false
	}
	return keystore.Record{
		Level:         level,
		PrivateKey:    priv,
		PublicKey:     priv.Public().(ed25519.PublicKey),
		ChallengeHash: stored.ChallengeHash,
		Salt:          stored.Salt,
	}, true
}

func mirrorKey(level keystore.Level) string {
	return fmt.Sprintf("level/%d", int(level))
}

func normalizePrivateKey(privateKey []byte) (ed25519.PrivateKey, error) {
	switch len(privateKey) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(privateKey), nil
	case ed25519.PrivateKeySize:
		return append(ed25519.PrivateKey(nil), privateKey...), nil
	default:
		return nil, ErrInvalidKey
	}
}

func hashChallenge(challenge string, salt []byte) string {
	sum := argon2.IDKey([]byte(challenge), salt, challengeHashTime, challengeHashMemoryKB, challengeHashThreads, challengeHashLen)
	return hex.EncodeToString(sum)
}

func challengeMatches(rec keystore.Record, challenge string) bool {
	if rec.ChallengeHash == "" || len(rec.Salt) == 0 {
		return false
	}
	derived := hashChallenge(challenge, rec.Salt)
	return subtle.ConstantTimeCompare([]byte(derived), []byte(rec.ChallengeHash)) == 1
}

func challengeError(level keystore.Level) error {
	if level == keystore.LevelPin {
		return ErrPinInvalid
	}
	return ErrPasswordInvalid
}

func signToken(priv ed25519.PrivateKey, data []byte) (string, error) {
	claims := jwt.MapClaims{}
	if err := json.Unmarshal(data, &claims); err != nil {
		return "", fmt.Errorf("token format requires a JSON object payload: %w", err)
	}
	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(priv)
}
