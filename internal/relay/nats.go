package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

const subjectRoot = "walletid.relay"

// NATSConfig configures the NATS relay backend.
type NATSConfig struct {
	URL             string        `yaml:"url"`
	Name            string        `yaml:"name"`
	ReconnectWait   time.Duration `yaml:"reconnectWait"`
	MaxReconnects   int           `yaml:"maxReconnects"`
	CredentialsFile string        `yaml:"credentialsFile"`
}

// NATSRelay is a Relay participant backed by a NATS connection. Events map to
// subjects under walletid.relay.<channel>.<event>; self-emissions are dropped
// by tagging messages with a per-connection inbox id.
type NATSRelay struct {
	conn *nats.Conn
	log  *slog.Logger

	mu       sync.Mutex
	channel  string
	selfID   string
	handlers map[string][]func([]byte)
	subs     []*nats.Subscription
}

const originHeader = "Walletid-Origin"

// DialNATS connects to a NATS server and returns an unconnected participant.
func DialNATS(cfg NATSConfig, logger *slog.Logger) (*NATSRelay, error) {
	if logger == nil {
		logger = slog.Default()
	}
	name := cfg.Name
	if name == "" {
		name = "walletid-relay"
	}
	opts := []nats.Option{
		nats.Name(name),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("relay disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("relay reconnected", "url", nc.ConnectedUrl())
		}),
	}
	if cfg.ReconnectWait > 0 {
		opts = append(opts, nats.ReconnectWait(cfg.ReconnectWait))
	}
	if cfg.MaxReconnects != 0 {
		opts = append(opts, nats.MaxReconnects(cfg.MaxReconnects))
	}
	if cfg.CredentialsFile != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredentialsFile))
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("relay: connecting to nats: %w", err)
	}
	return &NATSRelay{
		conn:     conn,
		log:      logger,
		selfID:   nats.NewInbox(),
		handlers: make(map[string][]func([]byte)),
	}, nil
}

func (r *NATSRelay) Connect(_ context.Context, channel string) error {
	if !validChannel(channel) {
		return ErrInvalidChannel
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribeLocked()
	r.channel = channel
	for event := range r.handlers {
		if err := r.subscribeLocked(event); err != nil {
			return err
		}
	}
	return nil
}

func (r *NATSRelay) On(event string, handler func(payload []byte)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	known := len(r.handlers[event]) > 0
	r.handlers[event] = append(r.handlers[event], handler)
	if r.channel != "" && !known {
		if err := r.subscribeLocked(event); err != nil {
			r.log.Warn("relay subscription failed", "event", event, "error", err)
		}
	}
}

func (r *NATSRelay) Emit(_ context.Context, event string, payload []byte) error {
	r.mu.Lock()
	channel := r.channel
	r.mu.Unlock()
	if channel == "" {
		return ErrNotConnected
	}
	msg := nats.NewMsg(subject(channel, event))
	msg.Header.Set(originHeader, r.selfID)
	msg.Data = payload
	return r.conn.PublishMsg(msg)
}

func (r *NATSRelay) Disconnect() error {
	r.mu.Lock()
	r.unsubscribeLocked()
	r.channel = ""
	r.mu.Unlock()
	return r.conn.Drain()
}

func (r *NATSRelay) subscribeLocked(event string) error {
	sub, err := r.conn.Subscribe(subject(r.channel, event), func(msg *nats.Msg) {
		if msg.Header.Get(originHeader) == r.selfID {
			return
		}
		r.mu.Lock()
		handlers := make([]func([]byte), len(r.handlers[event]))
		copy(handlers, r.handlers[event])
		r.mu.Unlock()
		for _, handler := range handlers {
			handler(msg.Data)
		}
	})
	if err != nil {
		return fmt.Errorf("relay: subscribing to %s: %w", event, err)
	}
	r.subs = append(r.subs, sub)
	return nil
}

func (r *NATSRelay) unsubscribeLocked() {
	for _, sub := range r.subs {
		_ = sub.Unsubscribe()
	}
	r.subs = nil
}

func subject(channel, event string) string {
	return fmt.Sprintf("%s.%s.%s", subjectRoot, channel, event)
}

func validChannel(channel string) bool {
	if strings.TrimSpace(channel) == "" {
		return false
	}
	return !strings.ContainsAny(channel, ". *>\t\n")
}
