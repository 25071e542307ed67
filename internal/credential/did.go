// Package credential signs and verifies payloads as compact verifiable
// credentials. Issuers are identified either by a self-certifying identifier
// derived from the public key itself or by a registry-backed identifier
// naming a ledger account and permission.
package credential

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	selfCertifyingPrefix = "did:jwk:"
	registryPrefix       = "did:ledger:"
)

var ErrInvalidDID = errors.New("credential: invalid identifier")

// publicKeyJWK is the canonical public-key representation embedded in
// self-certifying identifiers. Field order is the canonical order; private
// key parameters never appear here.
type publicKeyJWK struct {
	Crv string `json:"crv"`
	Kty string `json:"kty"`
	X   string `json:"x"`
}

// EncodeSelfCertifying derives the self-certifying identifier for a public
// key. DecodeSelfCertifying is its exact inverse.
func EncodeSelfCertifying(pub ed25519.PublicKey) (string, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", ErrInvalidDID
	}
	jwk := publicKeyJWK{
		Crv: "Ed25519",
		Kty: "OKP",
		X:   base64.RawURLEncoding.EncodeToString(pub),
	}
	raw, err := json.Marshal(jwk)
	if err != nil {
		return "", err
	}
	return selfCertifyingPrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeSelfCertifying recovers the public key from a self-certifying
// identifier. No registry is consulted.
func DecodeSelfCertifying(did string) (ed25519.PublicKey, error) {
	if !strings.HasPrefix(did, selfCertifyingPrefix) {
		return nil, ErrInvalidDID
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(did, selfCertifyingPrefix))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDID, err)
	}
	var jwk publicKeyJWK
	if err := json.Unmarshal(raw, &jwk); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDID, err)
	}
	if jwk.Kty != "OKP" || jwk.Crv != "Ed25519" {
		return nil, ErrInvalidDID
	}
	pub, err := base64.RawURLEncoding.DecodeString(jwk.X)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return nil, ErrInvalidDID
	}
	return ed25519.PublicKey(pub), nil
}

// FormatRegistryDID names a registered account's permission.
func FormatRegistryDID(account, permission string) string {
	return fmt.Sprintf("%s%s#%s", registryPrefix, account, permission)
}

// ParseRegistryDID splits a registry-backed identifier into account and
// permission. The permission defaults to "active" when no fragment is given.
func ParseRegistryDID(did string) (account, permission string, err error) {
	if !strings.HasPrefix(did, registryPrefix) {
		return "", "", ErrInvalidDID
	}
	rest := strings.TrimPrefix(did, registryPrefix)
	account, permission, found := strings.Cut(rest, "#")
	if strings.TrimSpace(account) == "" {
		return "", "", ErrInvalidDID
	}
	if !found || permission == "" {
		permission = "active"
	}
	return account, permission, nil
}
