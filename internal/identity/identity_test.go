package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"walletid/internal/keymanager"
	"walletid/internal/keystore"
	"walletid/internal/ledger"
	"walletid/internal/storage"
	"walletid/pkg/models"
)

const (
	testAccount  = "alice.id"
	testUsername = "Alice"
	testPassword = "Str0ng!Pass"
)

type fixture struct {
	manager *Manager
	chain   *ledger.MemoryLedger
	keys    *keymanager.Manager
	state   *storage.MemoryStore
	clock   *fakeClock
}

type fakeClock struct{ at time.Time }

func (c *fakeClock) now() time.Time          { return c.at }
func (c *fakeClock) advance(d time.Duration) { c.at = c.at.Add(d) }

func newFixture(t *testing.T, chain *ledger.MemoryLedger) *fixture {
	t.Helper()
	if chain == nil {
		chain = ledger.NewMemoryLedger("test-chain")
	}
	keys := keymanager.New(keymanager.Config{})
	state := storage.NewMemoryStore()
	clock := &fakeClock{at: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	manager, err := NewManager(Config{Keys: keys, Chain: chain, State: state, Now: clock.now})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return &fixture{manager: manager, chain: chain, keys: keys, state: state, clock: clock}
}

func createReadyAccount(t *testing.T, f *fixture) string {
	t.Helper()
	ctx := context.Background()
	rec, mnemonic, err := f.manager.CreateAccount(ctx, testAccount, testUsername, testPassword)
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if rec.Status != models.StatusCreatingAccount {
		t.Fatalf("status after create = %q, want %q", rec.Status, models.StatusCreatingAccount)
	}
	if err := f.manager.CompleteSetup(ctx, testPassword); err != nil {
		t.Fatalf("complete setup: %v", err)
	}
	if got := f.manager.Status(); got != models.StatusReady {
		t.Fatalf("status after setup = %q, want %q", got, models.StatusReady)
	}
	return mnemonic
}

func TestCreateAccountLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	rec, mnemonic, err := f.manager.CreateAccount(ctx, testAccount, testUsername, testPassword)
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if mnemonic == "" {
		t.Fatal("expected a recovery phrase")
	}
	if rec.Status != models.StatusCreatingAccount {
		t.Fatalf("status = %q, want %q", rec.Status, models.StatusCreatingAccount)
	}
	if rec.DID == "" || rec.Username != testUsername {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if _, err := f.chain.GetAccount(ctx, testAccount); err != nil {
		t.Fatalf("account missing on chain: %v", err)
	}

	// Repeating the creation in this status is a transition violation.
	if _, _, err := f.manager.CreateAccount(ctx, "bob.id", "", testPassword); !errors.Is(err, ErrWrongTransition) {
		t.Fatalf("second create err = %v, want ErrWrongTransition", err)
	}

	if err := f.manager.CompleteSetup(ctx, testPassword); err != nil {
		t.Fatalf("complete setup: %v", err)
	}
	ok, err := f.manager.VerifyConsistency(ctx)
	if err != nil || !ok {
		t.Fatalf("consistency = %v, %v; want true, nil", ok, err)
	}
	if got := f.manager.Status(); got != models.StatusReady {
		t.Fatalf("status = %q, want %q", got, models.StatusReady)
	}
}

func TestCreateAccountUsernameTaken(t *testing.T) {
	ctx := context.Background()
	chain := ledger.NewMemoryLedger("test-chain")
	createReadyAccount(t, newFixture(t, chain))

	other := newFixture(t, chain)
	_, _, err := other.manager.CreateAccount(ctx, "bob.id", testUsername, "0therPass!")
	if !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("err = %v, want ErrUsernameTaken", err)
	}
}

func TestCreateAccountRejectedLeavesNoLocalKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.chain.FailNextSubmit(ledger.ErrTransactionRejected)

	if _, _, err := f.manager.CreateAccount(ctx, testAccount, "", testPassword); err == nil {
		t.Fatal("expected the submission failure to surface")
	}
	if levels := f.keys.StoredLevels(); len(levels) != 0 {
		t.Fatalf("stored levels after rejected create = %v, want none", levels)
	}
	if got := f.manager.Status(); got != models.StatusUnknown {
		t.Fatalf("status = %q, want unknown", got)
	}
}

func TestLoginOnSecondDevice(t *testing.T) {
	ctx := context.Background()
	chain := ledger.NewMemoryLedger("test-chain")
	createReadyAccount(t, newFixture(t, chain))

	device := newFixture(t, chain)
	if _, err := device.manager.Login(ctx, "nobody", testPassword); !errors.Is(err, ErrUsernameNotFound) {
		t.Fatalf("unknown username err = %v, want ErrUsernameNotFound", err)
	}
	if _, err := device.manager.Login(ctx, testUsername, "wrong-pass"); !errors.Is(err, keymanager.ErrPasswordInvalid) {
		t.Fatalf("wrong password err = %v, want ErrPasswordInvalid", err)
	}

	rec, err := device.manager.Login(ctx, testUsername, testPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if rec.Status != models.StatusLoggingIn {
		t.Fatalf("status = %q, want %q", rec.Status, models.StatusLoggingIn)
	}
	if rec.AccountID != testAccount {
		t.Fatalf("account = %q, want %q", rec.AccountID, testAccount)
	}
	if err := device.manager.ConfirmReady(ctx); err != nil {
		t.Fatalf("confirm ready: %v", err)
	}
	if got := device.manager.Status(); got != models.StatusReady {
		t.Fatalf("status = %q, want %q", got, models.StatusReady)
	}
}

func TestLogoutClearsEverything(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	createReadyAccount(t, f)
	if _, err := f.keys.StoreKey(ctx, keystore.LevelLocal, make([]byte, 32), ""); err != nil {
		t.Fatalf("store local key: %v", err)
	}

	if err := f.manager.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if levels := f.keys.StoredLevels(); len(levels) != 0 {
		t.Fatalf("levels after logout = %v, want none", levels)
	}
	if got := f.manager.Status(); got != models.StatusUnknown {
		t.Fatalf("status = %q, want unknown", got)
	}
	if _, err := f.state.Retrieve(ctx, stateKey); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("state after logout err = %v, want ErrNotFound", err)
	}
	// The on-chain account survives a local logout.
	if _, err := f.chain.GetAccount(ctx, testAccount); err != nil {
		t.Fatalf("on-chain account gone after logout: %v", err)
	}
}

func TestDeactivateIsTerminal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	createReadyAccount(t, f)

	if err := f.manager.Deactivate(ctx); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := f.manager.Mirror().UpdateOnChainKeys(ctx, testPassword); err == nil {
		t.Fatal("expected key sync to refuse a deactivated identity")
	}
	if _, err := f.manager.AuthorizeApp(ctx, testPassword, "game.app", "ed25519:key"); !errors.Is(err, ErrDeactivated) {
		t.Fatalf("authorize err = %v, want ErrDeactivated", err)
	}
	if _, err := f.manager.Login(ctx, testUsername, testPassword); !errors.Is(err, ErrDeactivated) {
		t.Fatalf("login err = %v, want ErrDeactivated", err)
	}
}

func TestStateRestoresAcrossRestart(t *testing.T) {
	f := newFixture(t, nil)
	createReadyAccount(t, f)

	reopened, err := NewManager(Config{Keys: f.keys, Chain: f.chain, State: f.state, Now: f.clock.now})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	rec := reopened.Identity()
	if rec.AccountID != testAccount || rec.Status != models.StatusReady {
		t.Fatalf("restored record = %+v", rec)
	}
	if reopened.Mirror() == nil {
		t.Fatal("mirror not rebound after restore")
	}
}

func TestRecoverRotatesThePassword(t *testing.T) {
	ctx := context.Background()
	chain := ledger.NewMemoryLedger("test-chain")
	mnemonic := createReadyAccount(t, newFixture(t, chain))

	device := newFixture(t, chain)
	if _, err := device.manager.Recover(ctx, testAccount, testUsername, "not a phrase", "Fresh!Pass1"); !errors.Is(err, ErrInvalidMnemonic) {
		t.Fatalf("bad phrase err = %v, want ErrInvalidMnemonic", err)
	}

	rec, err := device.manager.Recover(ctx, testAccount, testUsername, mnemonic, "Fresh!Pass1")
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if rec.Status != models.StatusLoggingIn {
		t.Fatalf("status = %q, want %q", rec.Status, models.StatusLoggingIn)
	}
	if err := device.manager.ConfirmReady(ctx); err != nil {
		t.Fatalf("confirm ready after recovery: %v", err)
	}

	// The old password no longer matches the rotated active key.
	later := newFixture(t, chain)
	if _, err := later.manager.Login(ctx, testUsername, testPassword); !errors.Is(err, keymanager.ErrPasswordInvalid) {
		t.Fatalf("old password err = %v, want ErrPasswordInvalid", err)
	}
	if _, err := later.manager.Login(ctx, testUsername, "Fresh!Pass1"); err != nil {
		t.Fatalf("new password login: %v", err)
	}
}

func TestAuthorizeAppSuccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	createReadyAccount(t, f)

	app, err := f.manager.AuthorizeApp(ctx, testPassword, "game.app", "ed25519:appkey")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if app.Status != models.AppAuthReady || app.TransactionID == "" {
		t.Fatalf("authorization = %+v, want ready with a transaction id", app)
	}
	apps := f.manager.ListAppAuthorizations()
	if len(apps) != 1 || apps[0].ID != app.ID {
		t.Fatalf("list = %+v", apps)
	}
}

func TestAuthorizeAppStaysPendingOnFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	createReadyAccount(t, f)

	f.chain.FailNextSubmit(ledger.ErrTransactionRejected)
	if _, err := f.manager.AuthorizeApp(ctx, testPassword, "game.app", "ed25519:appkey"); err == nil {
		t.Fatal("expected submission failure to surface")
	}
	apps := f.manager.ListAppAuthorizations()
	if len(apps) != 1 {
		t.Fatalf("the failed authorization must be retained, got %d records", len(apps))
	}
	if apps[0].Status != models.AppAuthPending {
		t.Fatalf("status = %q, want pending", apps[0].Status)
	}
}

func TestReconcilePendingSettlesBothWays(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	createReadyAccount(t, f)

	// A grant whose transaction failed locally but later landed on-chain.
	f.chain.FailNextSubmit(ledger.ErrTransactionRejected)
	_, _ = f.manager.AuthorizeApp(ctx, testPassword, "landed.app", "ed25519:landedkey")
	if _, err := f.manager.Mirror().AuthorizeAppKey(ctx, testPassword, "landed.app", "ed25519:landedkey"); err != nil {
		t.Fatalf("out-of-band grant: %v", err)
	}

	// A grant that never made it anywhere.
	f.chain.FailNextSubmit(ledger.ErrTransactionRejected)
	_, _ = f.manager.AuthorizeApp(ctx, testPassword, "ghost.app", "ed25519:ghostkey")

	f.clock.advance(2 * time.Hour)
	settled, err := f.manager.ReconcilePending(ctx, time.Hour)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if settled != 2 {
		t.Fatalf("settled = %d, want 2", settled)
	}
	statuses := map[string]string{}
	for _, app := range f.manager.ListAppAuthorizations() {
		statuses[app.AppAccountID] = app.Status
	}
	if statuses["landed.app"] != models.AppAuthReady {
		t.Fatalf("landed.app = %q, want ready", statuses["landed.app"])
	}
	if statuses["ghost.app"] != models.AppAuthDeactivated {
		t.Fatalf("ghost.app = %q, want deactivated", statuses["ghost.app"])
	}
}

func TestSaveUsernameCollision(t *testing.T) {
	ctx := context.Background()
	chain := ledger.NewMemoryLedger("test-chain")
	createReadyAccount(t, newFixture(t, chain))

	other := newFixture(t, chain)
	if _, _, err := other.manager.CreateAccount(ctx, "bob.id", "", "0therPass!"); err != nil {
		t.Fatalf("create bob: %v", err)
	}
	if err := other.manager.SaveUsername(ctx, testUsername, "0therPass!"); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("err = %v, want ErrUsernameTaken", err)
	}
	if err := other.manager.SaveUsername(ctx, "Bobby", "0therPass!"); err != nil {
		t.Fatalf("save username: %v", err)
	}
	if got := other.manager.Identity().Username; got != "Bobby" {
		t.Fatalf("username = %q, want Bobby", got)
	}
}
