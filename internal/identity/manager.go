// Package identity manages the wallet-controlled account: its local metadata
// mirror, status machine, username reservation and authorized applications.
// The status is persisted verbatim, never derived; the record is never
// deleted, only deactivated.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"walletid/internal/credential"
	"walletid/internal/keymanager"
	"walletid/internal/keystore"
	"walletid/internal/keysync"
	"walletid/internal/ledger"
	"walletid/internal/storage"
	"walletid/pkg/models"
)

var (
	ErrSettingsNotInitialized = errors.New("identity: core used before configuration was supplied")
	ErrUsernameTaken          = errors.New("identity: username is already reserved")
	ErrUsernameNotFound       = errors.New("identity: username is not registered")
	ErrPasswordRequired       = errors.New("identity: password is required")
	ErrAccountRequired        = errors.New("identity: account id is required")
	ErrNoAccount              = errors.New("identity: no account is active")
	ErrDeactivated            = errors.New("identity: account is deactivated")
	ErrInvalidMnemonic        = errors.New("identity: recovery phrase is invalid")
	ErrWrongTransition        = errors.New("identity: operation is not allowed in the current status")
)

const stateKey = "identity/state"

// Config wires the manager's collaborators. Keys and Chain are mandatory.
type Config struct {
	Keys   *keymanager.Manager
	Chain  ledger.Client
	State  storage.Store
	Logger *slog.Logger
	Now    func() time.Time
}

// Manager owns one identity record and its app authorizations. One manager
// per identity; the key manager underneath is never shared.
type Manager struct {
	mu     sync.RWMutex
	rec    models.Identity
	apps   map[string]models.AppAuthorization
	keys   *keymanager.Manager
	chain  ledger.Client
	mirror *keysync.Mirror
	state  storage.Store
	log    *slog.Logger
	now    func() time.Time
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Keys == nil || cfg.Chain == nil {
		return nil, ErrSettingsNotInitialized
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	m := &Manager{
		apps:  make(map[string]models.AppAuthorization),
		keys:  cfg.Keys,
		chain: cfg.Chain,
		state: cfg.State,
		log:   log,
		now:   now,
	}
	if err := m.restore(context.Background()); err != nil {
		return nil, err
	}
	return m, nil
}

// Identity returns a copy of the current record.
func (m *Manager) Identity() models.Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.copyRecordLocked()
}

// Status returns the persisted status value.
func (m *Manager) Status() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rec.Status
}

// Keys exposes the key manager for callers composing signing operations.
func (m *Manager) Keys() *keymanager.Manager { return m.keys }

// Mirror returns the account key mirror, or nil before an account exists.
func (m *Manager) Mirror() *keysync.Mirror {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mirror
}

// Issuer builds the credential-signing capability for this identity, backed
// by the password-level key. The identifier is registry-backed: verifiers
// resolve it against the account's active permission.
func (m *Manager) Issuer(password string) (*credential.ManagedIssuer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.rec.AccountID == "" {
		return nil, ErrNoAccount
	}
	return credential.NewManagedIssuer(m.keys, keystore.LevelPassword, password, m.rec.DID), nil
}

func (m *Manager) copyRecordLocked() models.Identity {
	rec := m.rec
	rec.PasswordSalt = append([]byte(nil), m.rec.PasswordSalt...)
	return rec
}

func (m *Manager) bindMirrorLocked() {
	account := m.rec.AccountID
	m.mirror = keysync.New(m.keys, m.chain, account, m.Status, m.log)
}

type persistedState struct {
	Version  int                       `json:"version"`
	Identity models.Identity           `json:"identity"`
	Apps     []models.AppAuthorization `json:"apps,omitempty"`
}

func (m *Manager) persist(ctx context.Context) error {
	if m.state == nil {
		return nil
	}
	m.mu.RLock()
	state := persistedState{Version: 1, Identity: m.copyRecordLocked()}
	for _, app := range m.apps {
		state.Apps = append(state.Apps, app)
	}
	m.mu.RUnlock()

	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return m.state.Store(ctx, stateKey, payload)
}

func (m *Manager) restore(ctx context.Context) error {
	if m.state == nil {
		return nil
	}
	payload, err := m.state.Retrieve(ctx, stateKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var state persistedState
	if err := json.Unmarshal(payload, &state); err != nil {
		return fmt.Errorf("identity: persisted state is invalid: %w", err)
	}
	if state.Version != 1 {
		return fmt.Errorf("identity: unsupported persisted state version %d", state.Version)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec = state.Identity
	m.apps = make(map[string]models.AppAuthorization, len(state.Apps))
	for _, app := range state.Apps {
		m.apps[app.ID] = app
	}
	if m.rec.AccountID != "" {
		m.bindMirrorLocked()
	}
	return nil
}
