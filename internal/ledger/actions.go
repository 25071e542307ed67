package ledger

import (
	"errors"
	"fmt"
	"strings"
)

// Contract and table names used by the identity registry.
const (
	RegistryContract = "walletid.id"
	UsernameTable    = "usernames"
	AppTable         = "apps"
)

var errActionInvalid = errors.New("ledger: action is invalid")

// Action is one tagged transaction variant. Each on-chain action name has its
// own typed field set, validated before serialization.
type Action interface {
	ActionName() string
	// AuthorizedBy names the account/permission whose authority must sign
	// the enclosing transaction.
	AuthorizedBy() (account, permission string)
	Validate() error
}

// NewAccountAction creates an account with its owner and active permissions.
type NewAccountAction struct {
	Creator string    `json:"creator"`
	Account string    `json:"account"`
	Owner   Authority `json:"owner"`
	Active  Authority `json:"active"`
}

func (a NewAccountAction) ActionName() string { return "newaccount" }

func (a NewAccountAction) AuthorizedBy() (string, string) { return a.Creator, "active" }

func (a NewAccountAction) Validate() error {
	if strings.TrimSpace(a.Account) == "" {
		return fmt.Errorf("%w: newaccount needs an account name", errActionInvalid)
	}
	if len(a.Owner.Keys) == 0 || len(a.Active.Keys) == 0 {
		return fmt.Errorf("%w: newaccount needs owner and active keys", errActionInvalid)
	}
	return nil
}

// UpdateAuthAction sets or replaces one permission of an account.
type UpdateAuthAction struct {
	Account    string    `json:"account"`
	Permission string    `json:"permission"`
	Parent     string    `json:"parent"`
	Auth       Authority `json:"auth"`
}

func (a UpdateAuthAction) ActionName() string { return "updateauth" }

func (a UpdateAuthAction) AuthorizedBy() (string, string) { return a.Account, "active" }

func (a UpdateAuthAction) Validate() error {
	if strings.TrimSpace(a.Account) == "" || strings.TrimSpace(a.Permission) == "" {
		return fmt.Errorf("%w: updateauth needs an account and permission", errActionInvalid)
	}
	if len(a.Auth.Keys) == 0 {
		return fmt.Errorf("%w: updateauth needs at least one key", errActionInvalid)
	}
	return nil
}

// DeleteAuthAction removes one permission of an account.
type DeleteAuthAction struct {
	Account    string `json:"account"`
	Permission string `json:"permission"`
}

func (a DeleteAuthAction) ActionName() string { return "deleteauth" }

func (a DeleteAuthAction) AuthorizedBy() (string, string) { return a.Account, "active" }

func (a DeleteAuthAction) Validate() error {
	if strings.TrimSpace(a.Account) == "" || strings.TrimSpace(a.Permission) == "" {
		return fmt.Errorf("%w: deleteauth needs an account and permission", errActionInvalid)
	}
	if a.Permission == "owner" || a.Permission == "active" {
		return fmt.Errorf("%w: base permissions cannot be deleted", errActionInvalid)
	}
	return nil
}

// RegisterUsernameAction binds a hashed username to an account in the
// registry table, along with the password salt needed to re-derive the
// password key on another device.
type RegisterUsernameAction struct {
	Account      string `json:"account"`
	UsernameHash string `json:"username_hash"`
	PasswordSalt []byte `json:"password_salt"`
}

func (a RegisterUsernameAction) ActionName() string { return "regname" }

func (a RegisterUsernameAction) AuthorizedBy() (string, string) { return a.Account, "active" }

func (a RegisterUsernameAction) Validate() error {
	if strings.TrimSpace(a.Account) == "" || strings.TrimSpace(a.UsernameHash) == "" {
		return fmt.Errorf("%w: regname needs an account and username hash", errActionInvalid)
	}
	return nil
}

// AuthorizeAppAction grants an external application's ephemeral key access to
// the account.
type AuthorizeAppAction struct {
	Account    string `json:"account"`
	AppAccount string `json:"app_account"`
	Key        string `json:"key"`
}

func (a AuthorizeAppAction) ActionName() string { return "authapp" }

func (a AuthorizeAppAction) AuthorizedBy() (string, string) { return a.Account, "active" }

func (a AuthorizeAppAction) Validate() error {
	if strings.TrimSpace(a.Account) == "" || strings.TrimSpace(a.Key) == "" {
		return fmt.Errorf("%w: authapp needs an account and a key", errActionInvalid)
	}
	return nil
}

// UsernameRow is the registry table row for a reserved username.
type UsernameRow struct {
	UsernameHash string `json:"username_hash"`
	Account      string `json:"account"`
	PasswordSalt []byte `json:"password_salt"`
}

// AppRow is the registry table row for an authorized application key.
type AppRow struct {
	Account    string `json:"account"`
	AppAccount string `json:"app_account"`
	Key        string `json:"key"`
}
