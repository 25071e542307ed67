package login

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"walletid/internal/credential"
	"walletid/internal/identity"
	"walletid/internal/platform/ratelimiter"
	"walletid/internal/relay"
	"walletid/pkg/models"
)

// WalletConfig wires the wallet role. Identity and Codec are mandatory.
type WalletConfig struct {
	Identity *identity.Manager
	Codec    *credential.Codec
	Limiter  *ratelimiter.MapLimiter
	Metrics  *Metrics
	Logger   *slog.Logger
	Now      func() time.Time
}

// Wallet is the wallet role of the handshake: it verifies inbound request
// bundles, authorizes their ephemeral keys on-chain and signs confirmations
// back to each requester.
type Wallet struct {
	idn     *identity.Manager
	codec   *credential.Codec
	limiter *ratelimiter.MapLimiter
	metrics *Metrics
	log     *slog.Logger
	now     func() time.Time

	mu   sync.Mutex
	done chan struct{}
}

// RequestResult is the per-request outcome of a batch. Requests fail
// independently; an Err on one entry says nothing about its siblings.
type RequestResult struct {
	Origin       string
	RequesterDID string
	Confirmation string
	Err          error
}

func NewWallet(cfg WalletConfig) (*Wallet, error) {
	if cfg.Identity == nil || cfg.Codec == nil {
		return nil, identity.ErrSettingsNotInitialized
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Wallet{
		idn:     cfg.Identity,
		codec:   cfg.Codec,
		limiter: cfg.Limiter,
		metrics: metrics,
		log:     log,
		now:     now,
	}, nil
}

// HandleRequests processes a batch of signed login requests. Every request is
// verified and authorized independently: a bad signature or a rejected
// transaction fails its own entry and leaves the rest of the batch alone.
func (w *Wallet) HandleRequests(ctx context.Context, password string, tokens []string) []RequestResult {
	results := make([]RequestResult, len(tokens))
	for i, token := range tokens {
		results[i] = w.handleOne(ctx, password, token)
	}
	return results
}

func (w *Wallet) handleOne(ctx context.Context, password, token string) RequestResult {
	msg, err := w.codec.Verify(ctx, token)
	if err != nil {
		w.metrics.RequestsRejected.Inc()
		w.log.Warn("login request rejected", "error", err)
		return RequestResult{Err: err}
	}

	var payload models.LoginRequestPayload
	if err := msg.UnmarshalPayload(&payload); err != nil {
		w.metrics.RequestsRejected.Inc()
		return RequestResult{RequesterDID: msg.Issuer, Err: fmt.Errorf("%w: %v", ErrMissingParams, err)}
	}
	if strings.TrimSpace(payload.Nonce) == "" ||
		strings.TrimSpace(payload.Origin) == "" ||
		strings.TrimSpace(payload.EphemeralPublicKey) == "" {
		w.metrics.RequestsRejected.Inc()
		return RequestResult{RequesterDID: msg.Issuer, Err: ErrMissingParams}
	}
	if !w.limiter.Allow(payload.Origin, w.now()) {
		w.metrics.RequestsRejected.Inc()
		return RequestResult{Origin: payload.Origin, RequesterDID: msg.Issuer, Err: ErrRateLimited}
	}
	w.metrics.RequestsVerified.Inc()

	if _, err := w.idn.AuthorizeApp(ctx, password, msg.Issuer, payload.EphemeralPublicKey); err != nil {
		// The authorization record stays Pending; the requester gets no
		// confirmation until a reconcile settles it.
		w.metrics.AuthorizationsPending.Inc()
		w.log.Warn("app authorization incomplete", "origin", payload.Origin, "error", err)
		return RequestResult{Origin: payload.Origin, RequesterDID: msg.Issuer, Err: err}
	}

	rec := w.idn.Identity()
	issuer, err := w.idn.Issuer(password)
	if err != nil {
		return RequestResult{Origin: payload.Origin, RequesterDID: msg.Issuer, Err: err}
	}
	confirmation, err := w.codec.Sign(ctx, models.LoginConfirmationPayload{
		Nonce:     payload.Nonce,
		Origin:    payload.Origin,
		AccountID: rec.AccountID,
		Username:  rec.Username,
	}, issuer, msg.Issuer)
	if err != nil {
		return RequestResult{Origin: payload.Origin, RequesterDID: msg.Issuer, Err: err}
	}
	w.metrics.ConfirmationsSigned.Inc()
	return RequestResult{Origin: payload.Origin, RequesterDID: msg.Issuer, Confirmation: confirmation}
}

// Logout purges local key material and persisted identity state, then tears
// down the relay session a running Serve holds open.
func (w *Wallet) Logout(ctx context.Context) error {
	err := w.idn.Logout(ctx)
	w.mu.Lock()
	if w.done != nil {
		close(w.done)
		w.done = nil
	}
	w.mu.Unlock()
	return err
}

// Serve runs the wallet role over a relay channel until ctx is done or
// Logout is called. It announces readiness, answers every inbound request
// bundle with a bundle of confirmations for the entries that succeeded, and
// disconnects on exit.
func (w *Wallet) Serve(ctx context.Context, r relay.Relay, channel, password string) error {
	if err := r.Connect(ctx, channel); err != nil {
		return err
	}
	w.mu.Lock()
	w.done = make(chan struct{})
	done := w.done
	w.mu.Unlock()
	defer func() {
		if err := r.Disconnect(); err != nil {
			w.log.Warn("relay disconnect failed", "error", err)
		}
	}()

	r.On(relay.EventLoginRequest, func(raw []byte) {
		tokens, err := ParseRequestBundle(string(raw))
		if err != nil {
			w.metrics.RequestsRejected.Inc()
			w.log.Warn("unusable request bundle", "error", err)
			return
		}
		var confirmations []string
		for _, result := range w.HandleRequests(ctx, password, tokens) {
			if result.Err == nil {
				confirmations = append(confirmations, result.Confirmation)
			}
		}
		if len(confirmations) == 0 {
			return
		}
		bundle, err := EncodeRequestBundle(confirmations)
		if err != nil {
			return
		}
		if err := r.Emit(ctx, relay.EventLoginConfirmation, []byte(bundle)); err != nil {
			w.log.Warn("confirmation delivery failed", "error", err)
		}
	})

	if err := r.Emit(ctx, relay.EventWalletReady, []byte(w.idn.Identity().DID)); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
