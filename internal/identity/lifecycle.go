package identity

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"strings"

	"github.com/mr-tron/base58"

	"walletid/internal/credential"
	"walletid/internal/keymanager"
	"walletid/internal/keystore"
	"walletid/internal/ledger"
	"walletid/pkg/models"
)

// CreateAccount registers a new account on the ledger: username reservation
// (when given) and password-key binding commit in one transaction. It returns
// the new identity and the one-time recovery phrase. The phrase is handed to
// the caller and forgotten; the owner slot holds the key derived from it.
func (m *Manager) CreateAccount(ctx context.Context, accountID, username, password string) (models.Identity, string, error) {
	accountID = strings.TrimSpace(accountID)
	username = strings.TrimSpace(username)
	if accountID == "" {
		return models.Identity{}, "", ErrAccountRequired
	}
	if strings.TrimSpace(password) == "" {
		return models.Identity{}, "", ErrPasswordRequired
	}
	if m.Status() != models.StatusUnknown {
		return models.Identity{}, "", ErrWrongTransition
	}
	if username != "" {
		if _, err := m.findUsernameRow(ctx, username); err == nil {
			return models.Identity{}, "", ErrUsernameTaken
		} else if !errorsIsNotFound(err) {
			return models.Identity{}, "", err
		}
	}

	salt, err := NewPasswordSalt()
	if err != nil {
		return models.Identity{}, "", err
	}
	passwordKey, err := m.keys.StoreKey(ctx, keystore.LevelPassword, DerivePasswordSeed(password, salt), password)
	if err != nil {
		return models.Identity{}, "", err
	}

	mnemonic, err := NewRecoveryMnemonic()
	if err != nil {
		return models.Identity{}, "", err
	}
	recoverySeed, ok := DeriveRecoverySeed(mnemonic)
	if !ok {
		return models.Identity{}, "", ErrInvalidMnemonic
	}
	recoveryKey := keymanager.EncodePublicKey(
		ed25519.NewKeyFromSeed(recoverySeed).Public().(ed25519.PublicKey))

	actions := []ledger.Action{ledger.NewAccountAction{
		Creator: accountID,
		Account: accountID,
		Owner: ledger.Authority{Threshold: 1, Keys: []ledger.KeyWeight{
			{Key: passwordKey, Weight: 1},
			{Key: recoveryKey, Weight: 1},
		}},
		Active: ledger.SingleKeyAuthority(passwordKey),
	}}
	if username != "" {
		actions = append(actions, ledger.RegisterUsernameAction{
			Account:      accountID,
			UsernameHash: HashUsername(username),
			PasswordSalt: salt,
		})
	}
	if _, err := m.chain.SubmitTransaction(ctx, actions, m.passwordSigner(ctx, password)); err != nil {
		// Registration never landed; keep local custody clean.
		_ = m.keys.RemoveKey(ctx, keystore.LevelPassword)
		return models.Identity{}, "", err
	}

	m.mu.Lock()
	m.rec = models.Identity{
		AccountID:    accountID,
		Username:     username,
		UsernameHash: HashUsername(username),
		Status:       models.StatusCreatingAccount,
		DID:          credential.FormatRegistryDID(accountID, "active"),
		PasswordSalt: salt,
	}
	if username == "" {
		m.rec.UsernameHash = ""
	}
	m.bindMirrorLocked()
	rec := m.copyRecordLocked()
	m.mu.Unlock()

	if err := m.persist(ctx); err != nil {
		return models.Identity{}, "", err
	}
	m.log.Info("account registered", "account", accountID, "status", rec.Status)
	return rec, mnemonic, nil
}

// CompleteSetup publishes the remaining local key levels and moves the
// identity from CreatingAccount to Ready.
func (m *Manager) CompleteSetup(ctx context.Context, password string) error {
	if m.Status() != models.StatusCreatingAccount {
		return ErrWrongTransition
	}
	mirror := m.Mirror()
	if mirror == nil {
		return ErrNoAccount
	}
	if _, err := mirror.UpdateOnChainKeys(ctx, password); err != nil {
		return err
	}
	m.setStatus(models.StatusReady)
	return m.persist(ctx)
}

// Login re-authenticates with a username and password: the password key is
// re-derived from the registry-published salt and must match the account's
// active permission. On success the status is LoggingIn until consistency has
// been re-validated.
func (m *Manager) Login(ctx context.Context, username, password string) (models.Identity, error) {
	if strings.TrimSpace(password) == "" {
		return models.Identity{}, ErrPasswordRequired
	}
	switch m.Status() {
	case models.StatusUnknown, models.StatusReady:
	case models.StatusDeactivated:
		return models.Identity{}, ErrDeactivated
	default:
		return models.Identity{}, ErrWrongTransition
	}

	row, err := m.findUsernameRow(ctx, username)
	if err != nil {
		return models.Identity{}, err
	}
	seed := DerivePasswordSeed(password, row.PasswordSalt)
	derived := keymanager.EncodePublicKey(ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey))

	account, err := m.chain.GetAccount(ctx, row.Account)
	if err != nil {
		return models.Identity{}, err
	}
	if account.PermissionKey("active") != derived {
		return models.Identity{}, keymanager.ErrPasswordInvalid
	}
	if _, err := m.keys.StoreKey(ctx, keystore.LevelPassword, seed, password); err != nil {
		return models.Identity{}, err
	}

	m.mu.Lock()
	m.rec = models.Identity{
		AccountID:    row.Account,
		Username:     strings.TrimSpace(username),
		UsernameHash: row.UsernameHash,
		Status:       models.StatusLoggingIn,
		DID:          credential.FormatRegistryDID(row.Account, "active"),
		PasswordSalt: append([]byte(nil), row.PasswordSalt...),
	}
	m.bindMirrorLocked()
	rec := m.copyRecordLocked()
	m.mu.Unlock()

	if err := m.persist(ctx); err != nil {
		return models.Identity{}, err
	}
	m.log.Info("login succeeded", "account", rec.AccountID, "status", rec.Status)
	return rec, nil
}

// VerifyConsistency checks every (level, permission) pair without touching
// the status machine; use ConfirmReady to promote after a login.
func (m *Manager) VerifyConsistency(ctx context.Context) (bool, error) {
	mirror := m.Mirror()
	if mirror == nil {
		return false, ErrNoAccount
	}
	return mirror.VerifyConsistency(ctx)
}

// ConfirmReady re-runs the consistency check and, when it passes, completes
// the LoggingIn to Ready transition.
func (m *Manager) ConfirmReady(ctx context.Context) error {
	ok, err := m.VerifyConsistency(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrWrongTransition
	}
	if m.Status() == models.StatusLoggingIn {
		m.setStatus(models.StatusReady)
		return m.persist(ctx)
	}
	return nil
}

// Logout purges all local key material and persisted state and returns the
// record to the implicit unknown state. On-chain state is never mutated.
// Safe to call at any time, in any status.
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.keys.RemoveAllKeys(ctx); err != nil {
		return err
	}
	if m.state != nil {
		if err := m.state.Clear(ctx); err != nil {
			return err
		}
	}
	m.mu.Lock()
	account := m.rec.AccountID
	m.rec = models.Identity{}
	m.apps = make(map[string]models.AppAuthorization)
	m.mirror = nil
	m.mu.Unlock()
	m.log.Info("logged out", "account", account)
	return nil
}

// Deactivate is the terminal transition. The record survives; only the
// status changes.
func (m *Manager) Deactivate(ctx context.Context) error {
	switch m.Status() {
	case models.StatusReady, models.StatusLoggingIn:
	default:
		return ErrWrongTransition
	}
	m.setStatus(models.StatusDeactivated)
	return m.persist(ctx)
}

// SaveUsername reserves a username for the active account. A registry hit
// for a different account fails with ErrUsernameTaken; not-found is the only
// swallowed negative.
func (m *Manager) SaveUsername(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return ErrUsernameNotFound
	}
	rec := m.Identity()
	if rec.AccountID == "" {
		return ErrNoAccount
	}
	if rec.Status == models.StatusDeactivated {
		return ErrDeactivated
	}

	if row, err := m.findUsernameRow(ctx, username); err == nil {
		if row.Account != rec.AccountID {
			return ErrUsernameTaken
		}
	} else if !errorsIsNotFound(err) {
		return err
	}

	_, err := m.chain.SubmitTransaction(ctx, []ledger.Action{ledger.RegisterUsernameAction{
		Account:      rec.AccountID,
		UsernameHash: HashUsername(username),
		PasswordSalt: rec.PasswordSalt,
	}}, m.passwordSigner(ctx, password))
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.rec.Username = username
	m.rec.UsernameHash = HashUsername(username)
	m.mu.Unlock()
	return m.persist(ctx)
}

// Recover rotates the active permission to a key derived from a new password,
// authorized by the recovery phrase held in the owner slot. Used when the
// password is lost.
func (m *Manager) Recover(ctx context.Context, accountID, username, mnemonic, newPassword string) (models.Identity, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return models.Identity{}, ErrAccountRequired
	}
	if strings.TrimSpace(newPassword) == "" {
		return models.Identity{}, ErrPasswordRequired
	}
	recoverySeed, ok := DeriveRecoverySeed(mnemonic)
	if !ok {
		return models.Identity{}, ErrInvalidMnemonic
	}
	recoveryPriv := ed25519.NewKeyFromSeed(recoverySeed)
	recoveryKey := keymanager.EncodePublicKey(recoveryPriv.Public().(ed25519.PublicKey))

	account, err := m.chain.GetAccount(ctx, accountID)
	if err != nil {
		return models.Identity{}, err
	}
	owner, ok := account.Permission("owner")
	if !ok || !authorityHasKey(owner.Auth, recoveryKey) {
		return models.Identity{}, ErrInvalidMnemonic
	}

	salt, err := NewPasswordSalt()
	if err != nil {
		return models.Identity{}, err
	}
	seed := DerivePasswordSeed(newPassword, salt)
	newKey := keymanager.EncodePublicKey(ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey))

	actions := []ledger.Action{
		ledger.UpdateAuthAction{
			Account: accountID, Permission: "active", Parent: "owner",
			Auth: ledger.SingleKeyAuthority(newKey),
		},
		ledger.UpdateAuthAction{
			Account: accountID, Permission: "owner", Parent: "",
			Auth: ledger.Authority{Threshold: 1, Keys: []ledger.KeyWeight{
				{Key: newKey, Weight: 1},
				{Key: recoveryKey, Weight: 1},
			}},
		},
	}
	if username = strings.TrimSpace(username); username != "" {
		actions = append(actions, ledger.RegisterUsernameAction{
			Account:      accountID,
			UsernameHash: HashUsername(username),
			PasswordSalt: salt,
		})
	}
	if _, err := m.chain.SubmitTransaction(ctx, actions, func(digest []byte) (string, error) {
		return rawSign(recoveryPriv, digest), nil
	}); err != nil {
		return models.Identity{}, err
	}

	if _, err := m.keys.StoreKey(ctx, keystore.LevelPassword, seed, newPassword); err != nil {
		return models.Identity{}, err
	}

	m.mu.Lock()
	m.rec = models.Identity{
		AccountID:    accountID,
		Username:     username,
		UsernameHash: HashUsername(username),
		Status:       models.StatusLoggingIn,
		DID:          credential.FormatRegistryDID(accountID, "active"),
		PasswordSalt: salt,
	}
	if username == "" {
		m.rec.UsernameHash = ""
	}
	m.bindMirrorLocked()
	rec := m.copyRecordLocked()
	m.mu.Unlock()

	if err := m.persist(ctx); err != nil {
		return models.Identity{}, err
	}
	m.log.Info("account recovered", "account", accountID)
	return rec, nil
}

func (m *Manager) setStatus(status string) {
	m.mu.Lock()
	m.rec.Status = status
	m.mu.Unlock()
}

func (m *Manager) passwordSigner(ctx context.Context, password string) ledger.SignFunc {
	return func(digest []byte) (string, error) {
		return m.keys.SignData(ctx, keystore.LevelPassword, digest, password, keymanager.FormatRaw)
	}
}

func (m *Manager) findUsernameRow(ctx context.Context, username string) (ledger.UsernameRow, error) {
	hash := HashUsername(username)
	rows, err := m.chain.QueryTable(ctx, ledger.RegistryContract, "", ledger.UsernameTable, ledger.QueryBounds{
		Lower: hash, Upper: hash, Limit: 1,
	})
	if err != nil {
		return ledger.UsernameRow{}, err
	}
	if len(rows) == 0 {
		return ledger.UsernameRow{}, ErrUsernameNotFound
	}
	var row ledger.UsernameRow
	if err := json.Unmarshal(rows[0], &row); err != nil {
		return ledger.UsernameRow{}, err
	}
	return row, nil
}

func rawSign(priv ed25519.PrivateKey, digest []byte) string {
	return base58.Encode(ed25519.Sign(priv, digest))
}

func errorsIsNotFound(err error) bool {
	return errors.Is(err, ErrUsernameNotFound)
}

func authorityHasKey(auth ledger.Authority, key string) bool {
	for _, kw := range auth.Keys {
		if kw.Key == key {
			return true
		}
	}
	return false
}
