package identity

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"walletid/internal/ledger"
	"walletid/pkg/models"
)

// AuthorizeApp grants an application account a signing key on behalf of this
// identity. The authorization record is created Pending before the ledger is
// touched and is never dropped on failure: a rejected transaction leaves a
// Pending record behind for ReconcilePending to settle later.
func (m *Manager) AuthorizeApp(ctx context.Context, password, appAccountID, ephemeralKey string) (models.AppAuthorization, error) {
	mirror := m.Mirror()
	if mirror == nil {
		return models.AppAuthorization{}, ErrNoAccount
	}
	if m.Status() == models.StatusDeactivated {
		return models.AppAuthorization{}, ErrDeactivated
	}

	app := models.AppAuthorization{
		ID:           uuid.NewString(),
		AppAccountID: appAccountID,
		EphemeralKey: ephemeralKey,
		Status:       models.AppAuthPending,
		AddedAt:      m.now().UTC(),
	}
	m.mu.Lock()
	m.apps[app.ID] = app
	m.mu.Unlock()
	if err := m.persist(ctx); err != nil {
		return models.AppAuthorization{}, err
	}

	result, err := mirror.AuthorizeAppKey(ctx, password, appAccountID, ephemeralKey)
	if err != nil {
		m.log.Warn("app authorization not confirmed", "app", appAccountID, "error", err)
		return app, err
	}

	app.Status = models.AppAuthReady
	app.TransactionID = result.ID
	m.mu.Lock()
	m.apps[app.ID] = app
	m.mu.Unlock()
	if err := m.persist(ctx); err != nil {
		return models.AppAuthorization{}, err
	}
	m.log.Info("app authorized", "app", appAccountID, "tx", result.ID)
	return app, nil
}

// ListAppAuthorizations returns every known authorization, newest first.
func (m *Manager) ListAppAuthorizations() []models.AppAuthorization {
	m.mu.RLock()
	apps := make([]models.AppAuthorization, 0, len(m.apps))
	for _, app := range m.apps {
		apps = append(apps, app)
	}
	m.mu.RUnlock()
	sort.Slice(apps, func(i, j int) bool {
		if apps[i].AddedAt.Equal(apps[j].AddedAt) {
			return apps[i].ID < apps[j].ID
		}
		return apps[i].AddedAt.After(apps[j].AddedAt)
	})
	return apps
}

// ReconcilePending settles authorizations stuck in Pending. A record whose
// key turns out to be registered on-chain is promoted to Ready; one older
// than maxAge with no on-chain trace is marked Deactivated. Younger unproven
// records are left alone, the transaction may still land.
func (m *Manager) ReconcilePending(ctx context.Context, maxAge time.Duration) (int, error) {
	rec := m.Identity()
	if rec.AccountID == "" {
		return 0, ErrNoAccount
	}

	rows, err := m.chain.QueryTable(ctx, ledger.RegistryContract, "", ledger.AppTable, ledger.QueryBounds{
		Lower: rec.AccountID, Upper: rec.AccountID,
	})
	if err != nil {
		return 0, err
	}
	onChain := make(map[string]bool, len(rows))
	for _, raw := range rows {
		var row ledger.AppRow
		if err := json.Unmarshal(raw, &row); err != nil {
			return 0, err
		}
		onChain[row.AppAccount+"\x00"+row.Key] = true
	}

	cutoff := m.now().UTC().Add(-maxAge)
	settled := 0
	m.mu.Lock()
	for id, app := range m.apps {
		if app.Status != models.AppAuthPending {
			continue
		}
		switch {
		case onChain[app.AppAccountID+"\x00"+app.EphemeralKey]:
			app.Status = models.AppAuthReady
		case app.AddedAt.Before(cutoff):
			app.Status = models.AppAuthDeactivated
		default:
			continue
		}
		m.apps[id] = app
		settled++
	}
	m.mu.Unlock()

	if settled == 0 {
		return 0, nil
	}
	if err := m.persist(ctx); err != nil {
		return settled, err
	}
	m.log.Info("pending app authorizations reconciled", "settled", settled)
	return settled, nil
}
