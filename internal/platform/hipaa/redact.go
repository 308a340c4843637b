package hipaa

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// Redacted replaces any value that looks like a direct identifier.
const Redacted = "[REDACTED]"

// secretKeyFragments names query or metadata keys whose values are never
// recorded. Matching is case-insensitive on substrings.
var secretKeyFragments = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"authorization",
	"api_key",
	"api-key",
	"apikey",
	"credential",
	"otp",
}

var (
	emailPattern = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	ssnPattern   = regexp.MustCompile(`\b\d{3}-?\d{2}-?\d{4}\b`)
	// Optional +country code, then 10 digits with common separators.
	phonePattern = regexp.MustCompile(`(?:\+\d{1,3}[\s.\-]?)?\(?\b\d{3}\)?[\s.\-]?\d{3}[\s.\-]?\d{4}\b`)
)

// IsSecretKey reports whether values under key must be dropped.
func IsSecretKey(key string) bool {
	k := strings.ToLower(key)
	for _, frag := range secretKeyFragments {
		if strings.Contains(k, frag) {
			return true
		}
	}
	return false
}

// RedactValue replaces email, SSN and phone-like substrings in v.
func RedactValue(v string) string {
	v = emailPattern.ReplaceAllString(v, Redacted)
	v = ssnPattern.ReplaceAllString(v, Redacted)
	v = phonePattern.ReplaceAllString(v, Redacted)
	return v
}

// RedactMetadata returns a copy of m with secret keys removed and values
// redacted.
func RedactMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if IsSecretKey(k) {
			continue
		}
		out[k] = RedactValue(v)
	}
	return out
}

// RedactQuery renders query parameters in a stable order with secret keys
// dropped and identifier-like values redacted.
func RedactQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		if IsSecretKey(k) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		for _, v := range q[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(RedactValue(v))
		}
	}
	return b.String()
}
