package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"

	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

const (
	passwordSaltSize = 16

	passwordKDFTime     = uint32(2)
	passwordKDFMemoryKB = uint32(64 * 1024)
	passwordKDFThreads  = uint8(1)

	hkdfInfoRecovery = "walletid/recovery/v1"
)

// NewPasswordSalt generates the per-identity salt used to derive the password
// key. The salt is public: it is published in the username registry so that
// another device can re-derive the same key from the password alone.
func NewPasswordSalt() ([]byte, error) {
	salt := make([]byte, passwordSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// DerivePasswordSeed stretches a password into an ed25519 seed. Deterministic
// for a given (password, salt) pair, which is what makes cross-device login
// possible without moving key material.
func DerivePasswordSeed(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, passwordKDFTime, passwordKDFMemoryKB, passwordKDFThreads, ed25519.SeedSize)
}

// NewRecoveryMnemonic generates the one-time recovery phrase handed to the
// user at account creation. It is never persisted.
func NewRecoveryMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// DeriveRecoverySeed turns a recovery mnemonic into the owner-slot ed25519
// seed. Returns false when the mnemonic fails checksum validation.
func DeriveRecoverySeed(mnemonic string) ([]byte, bool) {
	mnemonic = strings.TrimSpace(mnemonic)
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, false
	}
	seedBytes := bip39.NewSeed(mnemonic, "")
	reader := hkdf.New(sha256.New, seedBytes, nil, []byte(hkdfInfoRecovery))
	out := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, false
	}
	return out, true
}

// HashUsername returns the registry index form of a username. The hashed form
// is always derivable from the plain one; only the hash goes on-chain.
func HashUsername(username string) string {
	normalized := strings.ToLower(strings.TrimSpace(username))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
