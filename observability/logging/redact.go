package logging

import (
	"log/slog"
	"net/url"
	"strings"
)

// RedactedValue replaces secrets in log output.
const RedactedValue = "[REDACTED]"

// Keys fundd logs verbatim. Anything else passed through MaskField is masked.
var redactionAllowlist = map[string]struct{}{
	"service":   {},
	"env":       {},
	"error":     {},
	"reason":    {},
	"component": {},
	"fund_id":   {},
	"asset":     {},
	"operation": {},
	"addr":      {},
	"issuer":    {},
	"audience":  {},
}

// IsAllowlisted reports whether key may be logged without masking.
func IsAllowlisted(key string) bool {
	_, ok := redactionAllowlist[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskValue returns RedactedValue for non-empty values. Blank values pass
// through so an unset secret stays visibly unset.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField masks value unless key is allowlisted.
func MaskField(key, value string) slog.Attr {
	if IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, MaskValue(value))
}

// MaskDSN hides the password of a journal DSN and keeps the rest readable.
// URL DSNs (postgres://user:pw@host/db) and key/value DSNs (host=db
// password=pw) are understood; sqlite paths carry no credentials and pass
// through.
func MaskDSN(dsn string) string {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return dsn
	}
	if u, err := url.Parse(trimmed); err == nil && u.Scheme != "" && u.User != nil {
		if _, ok := u.User.Password(); ok {
			return u.Redacted()
		}
		return trimmed
	}
	fields := strings.Fields(trimmed)
	for i, field := range fields {
		key, _, ok := strings.Cut(field, "=")
		if ok && strings.EqualFold(key, "password") {
			fields[i] = key + "=" + RedactedValue
		}
	}
	return strings.Join(fields, " ")
}
