// Package login implements the cross-origin login handshake between an
// external application and a wallet. Both roles exchange signed credential
// tokens, bundled as a JSON array that fits in a URL query parameter or a
// relay payload.
package login

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrWrongOrigin   = errors.New("login: confirmation origin mismatch")
	ErrMissingParams = errors.New("login: request bundle is missing or malformed")
	ErrRateLimited   = errors.New("login: origin is rate limited")
	ErrNonceUnknown  = errors.New("login: confirmation nonce matches no outstanding request")
)

// RequestsParam is the query parameter carrying a request bundle in both the
// login redirect URL and the callback URL.
const RequestsParam = "requests"

// EncodeRequestBundle serializes tokens as the wire bundle.
func EncodeRequestBundle(tokens []string) (string, error) {
	if len(tokens) == 0 {
		return "", ErrMissingParams
	}
	raw, err := json.Marshal(tokens)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// ParseRequestBundle decodes a wire bundle. Absent, empty or malformed input
// fails with ErrMissingParams; the tokens themselves are not verified here.
func ParseRequestBundle(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMissingParams
	}
	var tokens []string
	if err := json.Unmarshal([]byte(raw), &tokens); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingParams, err)
	}
	if len(tokens) == 0 {
		return nil, ErrMissingParams
	}
	for _, token := range tokens {
		if strings.TrimSpace(token) == "" {
			return nil, ErrMissingParams
		}
	}
	return tokens, nil
}

// RequestURL builds the redirect URL carrying the bundle to the wallet's
// login page: <ssoOrigin>/login?requests=<bundle>.
func RequestURL(ssoOrigin string, tokens []string) (string, error) {
	bundle, err := EncodeRequestBundle(tokens)
	if err != nil {
		return "", err
	}
	base, err := url.Parse(ssoOrigin)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("%w: bad sso origin %q", ErrMissingParams, ssoOrigin)
	}
	base.Path = "/login"
	query := url.Values{}
	query.Set(RequestsParam, bundle)
	base.RawQuery = query.Encode()
	return base.String(), nil
}

// ParseRequestURL extracts the bundle from a login or callback URL.
func ParseRequestURL(rawURL string) ([]string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingParams, err)
	}
	return ParseRequestBundle(parsed.Query().Get(RequestsParam))
}
