package ledger

import (
	"crypto/sha256"
	"encoding/json"
)

// TransactionDigest computes the digest a signer must sign: chain id plus the
// canonical serialization of every action with its name tag. Binding the
// chain id prevents replay of a signature on a different chain.
func TransactionDigest(chainID string, actions []Action) ([]byte, error) {
	type taggedAction struct {
		Name string `json:"name"`
		Data Action `json:"data"`
	}
	tagged := make([]taggedAction, 0, len(actions))
	for _, action := range actions {
		tagged = append(tagged, taggedAction{Name: action.ActionName(), Data: action})
	}
	payload, err := json.Marshal(struct {
		ChainID string         `json:"chain_id"`
		Actions []taggedAction `json:"actions"`
	}{ChainID: chainID, Actions: tagged})
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(payload)
	return sum[:], nil
}
