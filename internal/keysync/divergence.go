package keysync

import (
	"fmt"

	"walletid/internal/keystore"
)

// DivergenceClass identifies how local custody and on-chain authorization
// disagree. Callers render different remediation per class, so the class is
// part of the error contract.
type DivergenceClass int

const (
	// DivergenceLocalOnly: the key exists locally but its permission was
	// never published — enrollment did not finish.
	DivergenceLocalOnly DivergenceClass = iota
	// DivergenceChainOnly: the permission exists on-chain but this device
	// holds no key — the level was enrolled on another device.
	DivergenceChainOnly
	// DivergenceKeyMismatch: both sides hold a key and they differ — the
	// local copy is stale, possibly because of a login elsewhere.
	DivergenceKeyMismatch
)

func (c DivergenceClass) String() string {
	switch c {
	case DivergenceLocalOnly:
		return "local key not published on-chain"
	case DivergenceChainOnly:
		return "on-chain key missing locally"
	case DivergenceKeyMismatch:
		return "local and on-chain keys differ"
	default:
		return "unknown divergence"
	}
}

// DivergenceError names exactly which (level, permission) pair failed and
// how. It is always raised, never downgraded to a log line: divergence is a
// security-relevant state.
type DivergenceError struct {
	Level      keystore.Level
	Permission string
	Class      DivergenceClass
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("keysync: %s key diverged at permission %q: %s", e.Level, e.Permission, e.Class)
}
