// Package relay is the named-event channel the login handshake runs over.
// Participants rendezvous on a channel id, then exchange opaque payloads
// keyed by event name. The wire is a collaborator: an injected in-memory bus
// serves tests and single-process setups, a NATS adapter serves real
// deployments.
package relay

import (
	"context"
	"errors"
)

// Events exchanged during the login handshake.
const (
	EventWalletReady       = "wallet-ready"
	EventLoginRequest      = "login-request"
	EventLoginConfirmation = "login-confirmation"
)

var (
	ErrNotConnected   = errors.New("relay: not connected to a channel")
	ErrInvalidChannel = errors.New("relay: invalid channel id")
)

// Relay is one participant's connection to a rendezvous channel. Handlers
// registered with On receive payloads emitted by other participants on the
// same channel; a participant never hears its own emissions.
type Relay interface {
	Connect(ctx context.Context, channel string) error
	On(event string, handler func(payload []byte))
	Emit(ctx context.Context, event string, payload []byte) error
	Disconnect() error
}
