package ledger

// KeyWeight pairs an encoded public key with its voting weight inside an
// authority.
type KeyWeight struct {
	Key    string `json:"key"`
	Weight uint16 `json:"weight"`
}

// Authority is the on-chain unlock condition for one permission.
type Authority struct {
	Threshold uint32      `json:"threshold"`
	Keys      []KeyWeight `json:"keys"`
}

// SingleKeyAuthority is the common single-device case.
func SingleKeyAuthority(key string) Authority {
	return Authority{Threshold: 1, Keys: []KeyWeight{{Key: key, Weight: 1}}}
}

// FirstKey returns the first key in the authority, or "".
func (a Authority) FirstKey() string {
	if len(a.Keys) == 0 {
		return ""
	}
	return a.Keys[0].Key
}

// Permission is one node of an account's permission tree.
type Permission struct {
	Name   string    `json:"perm_name"`
	Parent string    `json:"parent"`
	Auth   Authority `json:"required_auth"`
}

// Account is the on-chain view of one account: its name and permission tree.
type Account struct {
	Name        string       `json:"account_name"`
	Permissions []Permission `json:"permissions"`
}

// Permission returns the named permission, if present.
func (a *Account) Permission(name string) (Permission, bool) {
	for _, p := range a.Permissions {
		if p.Name == name {
			return p, true
		}
	}
	return Permission{}, false
}

// PermissionKey returns the first key of the named permission, or "" when the
// permission is absent.
func (a *Account) PermissionKey(name string) string {
	p, ok := a.Permission(name)
	if !ok {
		return ""
	}
	return p.Auth.FirstKey()
}
