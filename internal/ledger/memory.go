package ledger

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"

	"walletid/internal/keymanager"
)

// MemoryLedger is the in-process Client. It backs tests and the daemon's
// standalone mode, and enforces the same authority rules a real chain would:
// a transaction is accepted only when its digest signature satisfies the
// authorizing permission of every action.
type MemoryLedger struct {
	mu       sync.Mutex
	chainID  string
	accounts map[string]Account
	names    map[string]UsernameRow
	apps     []AppRow
	blockNum uint64

	failNext error
}

func NewMemoryLedger(chainID string) *MemoryLedger {
	if strings.TrimSpace(chainID) == "" {
		chainID = "walletid-local"
	}
	return &MemoryLedger{
		chainID:  chainID,
		accounts: make(map[string]Account),
		names:    make(map[string]UsernameRow),
	}
}

func (l *MemoryLedger) GetChainID(_ context.Context) (string, error) {
	return l.chainID, nil
}

func (l *MemoryLedger) GetAccount(_ context.Context, name string) (*Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	account, ok := l.accounts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, name)
	}
	copied := account
	copied.Permissions = append([]Permission(nil), account.Permissions...)
	return &copied, nil
}

func (l *MemoryLedger) SubmitTransaction(ctx context.Context, actions []Action, sign SignFunc) (*TxResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(actions) == 0 {
		return nil, fmt.Errorf("%w: empty transaction", ErrTransactionRejected)
	}
	for _, action := range actions {
		if err := action.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransactionRejected, err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failNext != nil {
		err := l.failNext
		l.failNext = nil
		return nil, err
	}

	digest, err := TransactionDigest(l.chainID, actions)
	if err != nil {
		return nil, err
	}
	signature, err := sign(digest)
	if err != nil {
		return nil, err
	}
	if err := l.verifyAuthorityLocked(actions, digest, signature); err != nil {
		return nil, err
	}

	// Apply against a copy so a mid-transaction rejection leaves no trace.
	next := l.snapshotLocked()
	for _, action := range actions {
		if err := next.apply(action); err != nil {
			return nil, err
		}
	}
	l.accounts = next.accounts
	l.names = next.names
	l.apps = next.apps
	l.blockNum++

	return &TxResult{ID: uuid.NewString(), BlockNum: l.blockNum}, nil
}

func (l *MemoryLedger) QueryTable(_ context.Context, contract, scope, table string, bounds QueryBounds) ([]Row, error) {
	if contract != RegistryContract {
		return nil, fmt.Errorf("%w: unknown contract %s", ErrTransactionRejected, contract)
	}
	_ = scope

	l.mu.Lock()
	defer l.mu.Unlock()

	type indexed struct {
		index string
		row   any
	}
	var entries []indexed
	switch table {
	case UsernameTable:
		for _, row := range l.names {
			entries = append(entries, indexed{index: row.UsernameHash, row: row})
		}
	case AppTable:
		for _, row := range l.apps {
			entries = append(entries, indexed{index: row.Account, row: row})
		}
	default:
		return nil, fmt.Errorf("%w: unknown table %s", ErrTransactionRejected, table)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].index < entries[j].index })
	var out []Row
	for _, e := range entries {
		if bounds.Lower != "" && e.index < bounds.Lower {
			continue
		}
		if bounds.Upper != "" && e.index > bounds.Upper {
			continue
		}
		raw, err := marshalRow(e.row)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
		if bounds.Limit > 0 && len(out) >= bounds.Limit {
			break
		}
	}
	return out, nil
}

// FailNextSubmit makes the next SubmitTransaction return err. Test hook for
// partial-failure scenarios.
func (l *MemoryLedger) FailNextSubmit(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNext = err
}

// HasAppKey reports whether an app key row exists. Used by the wallet's
// pending-authorization reconciliation sweep.
func (l *MemoryLedger) HasAppKey(account, key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, row := range l.apps {
		if row.Account == account && row.Key == key {
			return true
		}
	}
	return false
}

func marshalRow(v any) (Row, error) {
	return json.Marshal(v)
}

type ledgerState struct {
	accounts map[string]Account
	names    map[string]UsernameRow
	apps     []AppRow
}

func (l *MemoryLedger) snapshotLocked() *ledgerState {
	state := &ledgerState{
		accounts: make(map[string]Account, len(l.accounts)),
		names:    make(map[string]UsernameRow, len(l.names)),
		apps:     append([]AppRow(nil), l.apps...),
	}
	for name, account := range l.accounts {
		copied := account
		copied.Permissions = append([]Permission(nil), account.Permissions...)
		state.accounts[name] = copied
	}
	for hash, row := range l.names {
		state.names[hash] = row
	}
	return state
}

func (s *ledgerState) apply(action Action) error {
	switch a := action.(type) {
	case NewAccountAction:
		if _, exists := s.accounts[a.Account]; exists {
			return fmt.Errorf("%w: account %s already exists", ErrTransactionRejected, a.Account)
		}
		s.accounts[a.Account] = Account{
			Name: a.Account,
			Permissions: []Permission{
				{Name: "owner", Parent: "", Auth: a.Owner},
				{Name: "active", Parent: "owner", Auth: a.Active},
			},
		}
	case UpdateAuthAction:
		account, exists := s.accounts[a.Account]
		if !exists {
			return fmt.Errorf("%w: %s", ErrAccountNotFound, a.Account)
		}
		updated := false
		for i, p := range account.Permissions {
			if p.Name == a.Permission {
				account.Permissions[i].Auth = a.Auth
				updated = true
				break
			}
		}
		if !updated {
			account.Permissions = append(account.Permissions, Permission{
				Name:   a.Permission,
				Parent: a.Parent,
				Auth:   a.Auth,
			})
		}
		s.accounts[a.Account] = account
	case DeleteAuthAction:
		account, exists := s.accounts[a.Account]
		if !exists {
			return fmt.Errorf("%w: %s", ErrAccountNotFound, a.Account)
		}
		kept := account.Permissions[:0]
		for _, p := range account.Permissions {
			if p.Name != a.Permission {
				kept = append(kept, p)
			}
		}
		account.Permissions = kept
		s.accounts[a.Account] = account
	case RegisterUsernameAction:
		if existing, taken := s.names[a.UsernameHash]; taken && existing.Account != a.Account {
			return fmt.Errorf("%w: username already reserved", ErrTransactionRejected)
		}
		s.names[a.UsernameHash] = UsernameRow{
			UsernameHash: a.UsernameHash,
			Account:      a.Account,
			PasswordSalt: append([]byte(nil), a.PasswordSalt...),
		}
	case AuthorizeAppAction:
		s.apps = append(s.apps, AppRow{Account: a.Account, AppAccount: a.AppAccount, Key: a.Key})
	default:
		return fmt.Errorf("%w: unknown action %s", ErrTransactionRejected, action.ActionName())
	}
	return nil
}

func (l *MemoryLedger) verifyAuthorityLocked(actions []Action, digest []byte, signature string) error {
	rawSig, err := base58.Decode(signature)
	if err != nil || len(rawSig) != ed25519.SignatureSize {
		return ErrBadSignature
	}
	created := make(map[string]Authority)
	for _, action := range actions {
		account, permission := action.AuthorizedBy()
		onChain, exists := l.accounts[account]
		if !exists {
			// Genesis case: a brand new account authorizes its own creation,
			// and any later actions in the same transaction, with the owner
			// key it is being created with.
			if create, ok := action.(NewAccountAction); ok && create.Creator == create.Account {
				if authoritySatisfied(create.Owner, digest, rawSig) {
					created[create.Account] = create.Owner
					continue
				}
				return ErrBadSignature
			}
			if owner, ok := created[account]; ok {
				if authoritySatisfied(owner, digest, rawSig) {
					continue
				}
				return ErrBadSignature
			}
			return fmt.Errorf("%w: %s", ErrAccountNotFound, account)
		}
		perm, ok := onChain.Permission(permission)
		if !ok {
			return fmt.Errorf("%w: %s@%s", ErrBadSignature, account, permission)
		}
		// The owner authority may always stand in for a child permission.
		if authoritySatisfied(perm.Auth, digest, rawSig) {
			continue
		}
		if owner, ok := onChain.Permission("owner"); ok && authoritySatisfied(owner.Auth, digest, rawSig) {
			continue
		}
		return ErrBadSignature
	}
	return nil
}

func authoritySatisfied(auth Authority, digest, rawSig []byte) bool {
	var weight uint32
	for _, kw := range auth.Keys {
		pub, err := keymanager.DecodePublicKey(kw.Key)
		if err != nil {
			continue
		}
		if ed25519.Verify(pub, digest, rawSig) {
			weight += uint32(kw.Weight)
		}
	}
	threshold := auth.Threshold
	if threshold == 0 {
		threshold = 1
	}
	return weight >= threshold
}
