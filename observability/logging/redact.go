package logging

import (
	"log/slog"
	"sort"
	"strings"
)

// RedactedValue replaces secrets in log output.
const RedactedValue = "[REDACTED]"

// sensitiveKeys are attribute keys whose values never reach a sink, whatever
// the caller passed.
var sensitiveKeys = map[string]struct{}{
	"passphrase":    {},
	"password":      {},
	"secret":        {},
	"jwt_secret":    {},
	"private_key":   {},
	"token":         {},
	"bearer":        {},
	"authorization": {},
	"signature":     {},
}

func normalizeKey(key string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), "-", "_")
}

// IsSensitive reports whether values logged under key are redacted.
func IsSensitive(key string) bool {
	_, ok := sensitiveKeys[normalizeKey(key)]
	return ok
}

// SensitiveKeys lists the redacted attribute keys in sorted order.
func SensitiveKeys() []string {
	keys := make([]string, 0, len(sensitiveKeys))
	for key := range sensitiveKeys {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// MaskValue hides a non-empty value. Empty values pass through.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField builds an attribute whose value is always hidden.
func MaskField(key, value string) slog.Attr {
	return slog.String(key, MaskValue(value))
}

// MaskBearer keeps the scheme of an Authorization header and hides the
// credential.
func MaskBearer(header string) string {
	scheme, credential, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || strings.TrimSpace(credential) == "" {
		return MaskValue(header)
	}
	return scheme + " " + RedactedValue
}

// redactAttr is applied to every attribute by the handler built in
// SetupWithOptions. Bearer headers keep their scheme.
func redactAttr(attr slog.Attr) slog.Attr {
	if !IsSensitive(attr.Key) || attr.Value.Kind() == slog.KindGroup {
		return attr
	}
	value := attr.Value.String()
	if normalizeKey(attr.Key) == "authorization" {
		return slog.String(attr.Key, MaskBearer(value))
	}
	if value == RedactedValue || strings.HasSuffix(value, " "+RedactedValue) {
		return attr
	}
	return slog.String(attr.Key, MaskValue(value))
}
