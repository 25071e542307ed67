package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrJwtNotValid means the credential failed every resolution strategy. It is
// distinct from a wrong-origin rejection: this one signals a corrupted,
// forged or expired credential.
var ErrJwtNotValid = errors.New("credential: token is not valid under any resolution strategy")

// Message is the decoded form of a verified credential envelope. The token
// string itself is immutable once constructed and safe to carry in a URL
// query parameter or over a relay channel.
type Message struct {
	Issuer    string
	Recipient string
	IssuedAt  time.Time
	Payload   json.RawMessage
	Token     string
}

// UnmarshalPayload decodes the credential subject payload into v.
func (m *Message) UnmarshalPayload(v any) error {
	if len(m.Payload) == 0 {
		return errors.New("credential: message has no payload")
	}
	return json.Unmarshal(m.Payload, v)
}

// Codec signs payloads into credential envelopes and verifies envelopes
// against every configured resolution strategy concurrently.
type Codec struct {
	resolvers []Resolver
	now       func() time.Time
	log       *slog.Logger
}

// New builds a codec. registry may be nil, in which case only self-certifying
// identifiers resolve.
func New(registry Resolver, logger *slog.Logger) *Codec {
	if logger == nil {
		logger = slog.Default()
	}
	resolvers := []Resolver{SelfCertifyingResolver{}}
	if registry != nil {
		resolvers = append(resolvers, registry)
	}
	return &Codec{resolvers: resolvers, now: time.Now, log: logger}
}

type vcClaims struct {
	jwt.RegisteredClaims
	VC struct {
		Context           []string `json:"@context"`
		Type              []string `json:"type"`
		IssuanceDate      string   `json:"issuanceDate"`
		CredentialSubject struct {
			ID      string          `json:"id,omitempty"`
			Payload json.RawMessage `json:"payload"`
		} `json:"credentialSubject"`
	} `json:"vc"`
}

// Sign wraps payload in a credential envelope issued now and signs it with
// the issuer's capability. recipient is optional; omitting it signals an
// unaddressed credential.
func (c *Codec) Sign(ctx context.Context, payload any, issuer Issuer, recipient string) (string, error) {
	issued := c.now().UTC()
	subject := map[string]any{"payload": payload}
	if recipient != "" {
		subject["id"] = recipient
	}
	claims := map[string]any{
		"iss": issuer.DID(),
		"iat": issued.Unix(),
		"vc": map[string]any{
			"@context":          []string{"https://www.w3.org/2018/credentials/v1"},
			"type":              []string{"VerifiableCredential"},
			"issuanceDate":      issued.Format(time.RFC3339),
			"credentialSubject": subject,
		},
	}
	if recipient != "" {
		claims["sub"] = recipient
	}
	return issuer.SignClaims(ctx, claims)
}

// Verify checks the token against every resolution strategy concurrently and
// accepts the first success. Only when all strategies fail is the token
// invalid; this tolerates issuers whose identifier scheme is not known in
// advance.
func (c *Codec) Verify(ctx context.Context, token string) (*Message, error) {
	issuer, err := unverifiedIssuer(token)
	if err != nil {
		return nil, err
	}

	type outcome struct {
		msg *Message
		err error
	}
	results := make(chan outcome, len(c.resolvers))
	for _, resolver := range c.resolvers {
		go func(r Resolver) {
			msg, err := c.verifyWith(ctx, r, issuer, token)
			results <- outcome{msg: msg, err: err}
		}(resolver)
	}

	var failures []error
	for range c.resolvers {
		res := <-results
		if res.err == nil {
			return res.msg, nil
		}
		failures = append(failures, res.err)
	}
	c.log.Debug("credential rejected by every resolver", "issuer", issuer, "strategies", len(failures))
	return nil, fmt.Errorf("%w: %v", ErrJwtNotValid, errors.Join(failures...))
}

func (c *Codec) verifyWith(ctx context.Context, resolver Resolver, issuer, token string) (*Message, error) {
	pub, err := resolver.Resolve(ctx, issuer)
	if err != nil {
		return nil, err
	}
	claims := &vcClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) { return pub, nil },
		jwt.WithValidMethods([]string{"EdDSA"}))
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, ErrJwtNotValid
	}
	msg := &Message{
		Issuer:    claims.Issuer,
		Recipient: claims.Subject,
		Payload:   claims.VC.CredentialSubject.Payload,
		Token:     token,
	}
	if msg.Recipient == "" {
		msg.Recipient = claims.VC.CredentialSubject.ID
	}
	if claims.IssuedAt != nil {
		msg.IssuedAt = claims.IssuedAt.Time
	}
	return msg, nil
}

func unverifiedIssuer(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("%w: %v", ErrJwtNotValid, err)
	}
	issuer, err := claims.GetIssuer()
	if err != nil || issuer == "" {
		return "", fmt.Errorf("%w: missing issuer", ErrJwtNotValid)
	}
	return issuer, nil
}
