// Package ledger defines the ledger collaborator consumed by the identity
// core: account lookup, transaction submission, chain id retrieval and table
// queries. The ledger is a shared, externally synchronized resource; callers
// must assume every write races with writes from other devices.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrAccountNotFound     = errors.New("ledger: account does not exist")
	ErrTransactionRejected = errors.New("ledger: transaction rejected")
	ErrBadSignature        = errors.New("ledger: transaction signature does not satisfy authority")
)

// SignFunc signs a 32-byte transaction digest. The digest, not the secret,
// crosses this boundary.
type SignFunc func(digest []byte) (signature string, err error)

// Row is one opaque table row.
type Row = json.RawMessage

// QueryBounds selects rows by secondary index value.
type QueryBounds struct {
	Lower string
	Upper string
	Limit int
}

// TxResult reports a submitted transaction.
type TxResult struct {
	ID       string
	BlockNum uint64
}

// Client is the collaborator contract. All methods are suspension points and
// honor context cancellation.
type Client interface {
	GetAccount(ctx context.Context, name string) (*Account, error)
	SubmitTransaction(ctx context.Context, actions []Action, sign SignFunc) (*TxResult, error)
	GetChainID(ctx context.Context) (string, error)
	QueryTable(ctx context.Context, contract, scope, table string, bounds QueryBounds) ([]Row, error)
}
