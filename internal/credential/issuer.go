package credential

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"walletid/internal/keymanager"
	"walletid/internal/keystore"
)

// Issuer is a signing capability bound to an identifier. The codec never sees
// raw private keys; it hands claims to the issuer and gets a signed token.
type Issuer interface {
	DID() string
	SignClaims(ctx context.Context, claims map[string]any) (string, error)
}

// EphemeralIssuer holds a session-scoped keypair that is never persisted. Its
// identifier is self-certifying because no registry entry exists for it.
type EphemeralIssuer struct {
	priv ed25519.PrivateKey
	did  string
}

// NewEphemeralIssuer generates a fresh keypair for one handshake.
func NewEphemeralIssuer() (*EphemeralIssuer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	did, err := EncodeSelfCertifying(pub)
	if err != nil {
		return nil, err
	}
	return &EphemeralIssuer{priv: priv, did: did}, nil
}

func (e *EphemeralIssuer) DID() string { return e.did }

// PublicKey returns the encoded public key for inclusion in login payloads.
func (e *EphemeralIssuer) PublicKey() string {
	return keymanager.EncodePublicKey(e.priv.Public().(ed25519.PublicKey))
}

func (e *EphemeralIssuer) SignClaims(_ context.Context, claims map[string]any) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims(claims)).SignedString(e.priv)
}

// ManagedIssuer signs through a key manager level, so registry-backed
// identities can issue credentials without exposing their keys.
type ManagedIssuer struct {
	manager   *keymanager.Manager
	level     keystore.Level
	challenge string
	did       string
}

func NewManagedIssuer(manager *keymanager.Manager, level keystore.Level, challenge, did string) *ManagedIssuer {
	return &ManagedIssuer{manager: manager, level: level, challenge: challenge, did: did}
}

func (m *ManagedIssuer) DID() string { return m.did }

func (m *ManagedIssuer) SignClaims(ctx context.Context, claims map[string]any) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("credential: claims are not serializable: %w", err)
	}
	return m.manager.SignData(ctx, m.level, payload, m.challenge, keymanager.FormatToken)
}
