// Package keysync correlates local key custody with the on-chain permission
// tree of an account. Two independently mutable stores must agree; this
// package publishes local keys and detects divergence after the fact, since
// there is no lock to take on the ledger beforehand.
package keysync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"walletid/internal/keymanager"
	"walletid/internal/keystore"
	"walletid/internal/ledger"
	"walletid/pkg/models"
)

var ErrDeactivated = errors.New("keysync: identity is deactivated")

type levelPermission struct {
	level      keystore.Level
	permission string
}

// consistencyPairs is the fixed, ordered set of (level, permission) pairs the
// mirror checks. Password backs both base permissions.
var consistencyPairs = []levelPermission{
	{keystore.LevelPin, "pin"},
	{keystore.LevelBiometric, "fingerprint"},
	{keystore.LevelLocal, "local"},
	{keystore.LevelPassword, "active"},
	{keystore.LevelPassword, "owner"},
}

// updatableLevels are the optional levels published by UpdateOnChainKeys. The
// password level is the signer, never the payload.
var updatableLevels = []levelPermission{
	{keystore.LevelPin, "pin"},
	{keystore.LevelBiometric, "fingerprint"},
	{keystore.LevelLocal, "local"},
}

// Mirror binds one identity's key manager to its on-chain account.
type Mirror struct {
	keys    *keymanager.Manager
	chain   ledger.Client
	account string
	status  func() string
	log     *slog.Logger
}

func New(keys *keymanager.Manager, chain ledger.Client, account string, status func() string, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	if status == nil {
		status = func() string { return models.StatusUnknown }
	}
	return &Mirror{keys: keys, chain: chain, account: account, status: status, log: logger}
}

// UpdateOnChainKeys publishes whichever of the optional levels are present
// locally in one atomic transaction signed by the password key. The update is
// a set union: levels absent locally are left untouched on-chain, because
// local absence is not deletion.
func (m *Mirror) UpdateOnChainKeys(ctx context.Context, password string) (*ledger.TxResult, error) {
	if m.status() == models.StatusDeactivated {
		return nil, ErrDeactivated
	}

	var actions []ledger.Action
	for _, pair := range updatableLevels {
		key, err := m.keys.GetKey(ctx, pair.level)
		if errors.Is(err, keymanager.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		actions = append(actions, ledger.UpdateAuthAction{
			Account:    m.account,
			Permission: pair.permission,
			Parent:     "active",
			Auth:       ledger.SingleKeyAuthority(key),
		})
	}
	if len(actions) == 0 {
		m.log.Debug("no optional keys present locally, nothing to publish", "account", m.account)
		return nil, nil
	}

	result, err := m.chain.SubmitTransaction(ctx, actions, m.passwordSigner(ctx, password))
	if err != nil {
		return nil, err
	}
	m.log.Info("published local keys on-chain", "account", m.account, "levels", len(actions), "tx", result.ID)
	return result, nil
}

// VerifyConsistency fetches local key and on-chain permission independently
// for every pair and raises a typed DivergenceError on the first mismatch.
// Absence on both sides is fine; any other disagreement is fatal.
func (m *Mirror) VerifyConsistency(ctx context.Context) (bool, error) {
	account, err := m.chain.GetAccount(ctx, m.account)
	if err != nil {
		return false, err
	}
	for _, pair := range consistencyPairs {
		localKey, err := m.keys.GetKey(ctx, pair.level)
		if err != nil && !errors.Is(err, keymanager.ErrKeyNotFound) {
			return false, err
		}
		chainKey := account.PermissionKey(pair.permission)

		switch {
		case localKey == "" && chainKey == "":
			continue
		case localKey != "" && chainKey == "":
			return false, &DivergenceError{Level: pair.level, Permission: pair.permission, Class: DivergenceLocalOnly}
		case localKey == "" && chainKey != "":
			return false, &DivergenceError{Level: pair.level, Permission: pair.permission, Class: DivergenceChainOnly}
		case localKey != chainKey:
			return false, &DivergenceError{Level: pair.level, Permission: pair.permission, Class: DivergenceKeyMismatch}
		}
	}
	return true, nil
}

// AuthorizeAppKey binds an app's ephemeral key to the account, signed by the
// password key.
func (m *Mirror) AuthorizeAppKey(ctx context.Context, password, appAccount, key string) (*ledger.TxResult, error) {
	if m.status() == models.StatusDeactivated {
		return nil, ErrDeactivated
	}
	return m.chain.SubmitTransaction(ctx, []ledger.Action{ledger.AuthorizeAppAction{
		Account:    m.account,
		AppAccount: appAccount,
		Key:        key,
	}}, m.passwordSigner(ctx, password))
}

func (m *Mirror) passwordSigner(ctx context.Context, password string) ledger.SignFunc {
	return func(digest []byte) (string, error) {
		signature, err := m.keys.SignData(ctx, keystore.LevelPassword, digest, password, keymanager.FormatRaw)
		if err != nil {
			return "", fmt.Errorf("signing with password key: %w", err)
		}
		return signature, nil
	}
}
