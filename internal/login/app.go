package login

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mr-tron/base58"

	"walletid/internal/credential"
	"walletid/pkg/models"
)

// AppClient is the external-application role of the handshake. It holds one
// session-scoped ephemeral keypair; the keypair and the nonces it signs are
// never persisted beyond the client's lifetime.
type AppClient struct {
	origin       string
	callbackPath string
	issuer       *credential.EphemeralIssuer
	codec        *credential.Codec
	log          *slog.Logger

	mu     sync.Mutex
	nonces map[string]struct{}
}

func NewAppClient(origin, callbackPath string, codec *credential.Codec, logger *slog.Logger) (*AppClient, error) {
	origin = strings.TrimSpace(origin)
	if origin == "" || codec == nil {
		return nil, ErrMissingParams
	}
	if logger == nil {
		logger = slog.Default()
	}
	issuer, err := credential.NewEphemeralIssuer()
	if err != nil {
		return nil, err
	}
	return &AppClient{
		origin:       origin,
		callbackPath: callbackPath,
		issuer:       issuer,
		codec:        codec,
		log:          logger,
		nonces:       make(map[string]struct{}),
	}, nil
}

// DID returns the client's self-certifying identifier. The wallet addresses
// its confirmation to it.
func (c *AppClient) DID() string { return c.issuer.DID() }

// EphemeralPublicKey returns the wire form of the session key the wallet
// authorizes on-chain.
func (c *AppClient) EphemeralPublicKey() string { return c.issuer.PublicKey() }

// BuildLoginRequest signs a fresh login request credential. Each call mints a
// new nonce; the nonce is remembered so the matching confirmation can be
// consumed exactly once.
func (c *AppClient) BuildLoginRequest(ctx context.Context) (string, error) {
	nonce, err := newNonce()
	if err != nil {
		return "", err
	}
	payload := models.LoginRequestPayload{
		Nonce:              nonce,
		Origin:             c.origin,
		EphemeralPublicKey: c.issuer.PublicKey(),
		CallbackPath:       c.callbackPath,
	}
	token, err := c.codec.Sign(ctx, payload, c.issuer, "")
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.nonces[nonce] = struct{}{}
	c.mu.Unlock()
	return token, nil
}

// VerifyConfirmation validates a confirmation credential. The referrer check
// is mandatory: it is the sole anti-phishing control in this flow, so both
// the signed origin and the actual referring origin must equal the origin
// this client was built for. The confirmation's nonce must match an
// outstanding request and is consumed on success.
func (c *AppClient) VerifyConfirmation(ctx context.Context, token, referrerOrigin string) (*models.LoginConfirmationPayload, error) {
	msg, err := c.codec.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	var payload models.LoginConfirmationPayload
	if err := msg.UnmarshalPayload(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingParams, err)
	}
	if payload.Origin != c.origin || referrerOrigin != c.origin {
		c.log.Warn("confirmation origin rejected", "expected", c.origin)
		return nil, ErrWrongOrigin
	}

	c.mu.Lock()
	_, known := c.nonces[payload.Nonce]
	if known {
		delete(c.nonces, payload.Nonce)
	}
	c.mu.Unlock()
	if !known {
		return nil, ErrNonceUnknown
	}
	return &payload, nil
}

func newNonce() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base58.Encode(raw), nil
}
