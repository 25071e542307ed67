// Package privacylog wraps an slog.Handler so key material and raw account
// identifiers never reach the log sink. Secret-bearing attributes are
// replaced wholesale; identifiers are reduced to a salted fingerprint that is
// stable within one process run and useless across runs.
package privacylog

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
)

const redactedValue = "[REDACTED]"

var (
	bootSalt = randomSalt()

	// Substrings that mark an attribute as secret-bearing. Private keys,
	// challenges and recovery phrases must never be logged, not even hashed.
	secretKeyParts = []string{
		"password", "challenge", "private", "mnemonic", "phrase",
		"seed", "secret", "token", "credential",
	}

	// Identifier keys logged as fingerprints rather than plain values.
	fingerprintedIDs = map[string]struct{}{
		"account":   {},
		"app":       {},
		"username":  {},
		"did":       {},
		"requester": {},
	}
)

// Handler sanitizes every record before handing it to the wrapped handler.
type Handler struct {
	next slog.Handler
}

func Wrap(next slog.Handler) slog.Handler {
	if next == nil {
		return nil
	}
	return &Handler{next: next}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, rec slog.Record) error {
	out := slog.NewRecord(rec.Time, rec.Level, rec.Message, rec.PC)
	rec.Attrs(func(attr slog.Attr) bool {
		out.AddAttrs(SanitizeAttr(attr))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	sanitized := make([]slog.Attr, 0, len(attrs))
	for _, attr := range attrs {
		sanitized = append(sanitized, SanitizeAttr(attr))
	}
	return &Handler{next: h.next.WithAttrs(sanitized)}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{next: h.next.WithGroup(name)}
}

// SanitizeAttr redacts secrets and fingerprints identifiers; all other
// attributes pass through untouched.
func SanitizeAttr(attr slog.Attr) slog.Attr {
	key := strings.ToLower(strings.TrimSpace(attr.Key))
	if isSecretKey(key) {
		return slog.String(attr.Key, redactedValue)
	}
	if _, ok := fingerprintedIDs[key]; ok {
		return slog.String(attr.Key+"_fp", Fingerprint(valueString(attr.Value)))
	}
	if attr.Value.Kind() == slog.KindGroup {
		group := attr.Value.Group()
		sanitized := make([]any, 0, len(group))
		for _, member := range group {
			sanitized = append(sanitized, SanitizeAttr(member))
		}
		return slog.Group(attr.Key, sanitized...)
	}
	return attr
}

// Fingerprint maps a value to a short process-scoped pseudonym. Equal values
// collapse to equal fingerprints within one run, so log lines still correlate.
func Fingerprint(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(trimmed + "|" + bootSalt))
	return "fp_" + hex.EncodeToString(sum[:8])
}

func isSecretKey(key string) bool {
	for _, part := range secretKeyParts {
		if strings.Contains(key, part) {
			return true
		}
	}
	return false
}

func valueString(v slog.Value) string {
	if v.Kind() == slog.KindString {
		return v.String()
	}
	return fmt.Sprint(v.Any())
}

func randomSalt() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "static_salt"
	}
	return hex.EncodeToString(buf)
}
