package keymanager

import (
	"crypto/ed25519"
	"errors"
	"strings"

	"github.com/mr-tron/base58"
)

const publicKeyPrefix = "ed25519:"

var ErrInvalidPublicKey = errors.New("invalid public key encoding")

// EncodePublicKey renders a public key in its wire form. The same encoding is
// persisted on-chain, carried in login payloads and compared by the key
// mirror, so it must stay stable.
func EncodePublicKey(pub ed25519.PublicKey) string {
	return publicKeyPrefix + base58.Encode(pub)
}

// DecodePublicKey is the exact inverse of EncodePublicKey.
func DecodePublicKey(encoded string) (ed25519.PublicKey, error) {
	if !strings.HasPrefix(encoded, publicKeyPrefix) {
		return nil, ErrInvalidPublicKey
	}
	raw, err := base58.Decode(strings.TrimPrefix(encoded, publicKeyPrefix))
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, ErrInvalidPublicKey
	}
	return ed25519.PublicKey(raw), nil
}
