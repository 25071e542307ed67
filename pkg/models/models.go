package models

import (
	"strings"
	"time"
)

// Identity status values. Persisted verbatim, never derived.
const (
	StatusUnknown         = ""
	StatusCreatingAccount = "creating_account"
	StatusLoggingIn       = "logging_in"
	StatusReady           = "ready"
	StatusDeactivated     = "deactivated"
)

// App authorization status values.
const (
	AppAuthPending     = "pending"
	AppAuthCreating    = "creating"
	AppAuthReady       = "ready"
	AppAuthDeactivated = "deactivated"
)

// Identity is the local mirror of one wallet-controlled ledger account.
type Identity struct {
	AccountID    string `json:"account_id"`
	Username     string `json:"username,omitempty"`
	UsernameHash string `json:"username_hash,omitempty"`
	Status       string `json:"status"`
	DID          string `json:"did,omitempty"`
	PasswordSalt []byte `json:"password_salt,omitempty"`
}

// AppAuthorization records one external application authorized against an
// identity. Owned by the identity record; it has no independent lifecycle.
type AppAuthorization struct {
	ID            string    `json:"id"`
	AppAccountID  string    `json:"app_account_id"`
	EphemeralKey  string    `json:"ephemeral_key"`
	Status        string    `json:"status"`
	AddedAt       time.Time `json:"added_at"`
	TransactionID string    `json:"transaction_id,omitempty"`
}

// LoginRequestPayload is the payload an external app signs into its login
// request credential. The nonce is cryptographically random per request and
// never reused.
type LoginRequestPayload struct {
	Nonce              string `json:"nonce"`
	Origin             string `json:"origin"`
	EphemeralPublicKey string `json:"ephemeralPublicKey"`
	CallbackPath       string `json:"callbackPath,omitempty"`
}

// LoginConfirmationPayload is the payload the wallet signs back to the
// requesting app after authorizing its ephemeral key.
type LoginConfirmationPayload struct {
	Nonce     string `json:"nonce"`
	Origin    string `json:"origin"`
	AccountID string `json:"accountId"`
	Username  string `json:"username,omitempty"`
}

func NormalizeAppAuthStatus(raw string) string {
	switch strings.TrimSpace(raw) {
	case AppAuthCreating:
		return AppAuthCreating
	case AppAuthReady:
		return AppAuthReady
	case AppAuthDeactivated:
		return AppAuthDeactivated
	default:
		return AppAuthPending
	}
}
