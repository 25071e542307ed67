package credential

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"walletid/internal/keymanager"
	"walletid/internal/ledger"
)

// Resolver turns an issuer identifier into the public key that must have
// signed the credential.
type Resolver interface {
	Resolve(ctx context.Context, did string) (ed25519.PublicKey, error)
}

// SelfCertifyingResolver resolves identifiers that carry their own key. It
// never suspends.
type SelfCertifyingResolver struct{}

func (SelfCertifyingResolver) Resolve(_ context.Context, did string) (ed25519.PublicKey, error) {
	return DecodeSelfCertifying(did)
}

// RegistryResolver resolves identifiers that name a ledger account and
// permission. Every resolution is a ledger round trip.
type RegistryResolver struct {
	client ledger.Client
}

func NewRegistryResolver(client ledger.Client) *RegistryResolver {
	return &RegistryResolver{client: client}
}

func (r *RegistryResolver) Resolve(ctx context.Context, did string) (ed25519.PublicKey, error) {
	account, permission, err := ParseRegistryDID(did)
	if err != nil {
		return nil, err
	}
	onChain, err := r.client.GetAccount(ctx, account)
	if err != nil {
		return nil, err
	}
	key := onChain.PermissionKey(permission)
	if key == "" {
		return nil, fmt.Errorf("%w: permission %s not found on %s", ErrInvalidDID, permission, account)
	}
	return keymanager.DecodePublicKey(key)
}
