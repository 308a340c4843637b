package hipaa

import (
	"net/url"
	"testing"
)

func TestRedactValue(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"email", "contact jane.doe@example.org now", "contact [REDACTED] now"},
		{"ssn dashed", "ssn 123-45-6789", "ssn [REDACTED]"},
		{"ssn plain", "123456789", "[REDACTED]"},
		{"phone", "call (555) 123-4567", "call [REDACTED]"},
		{"phone dotted", "555.123.4567", "[REDACTED]"},
		{"phone international", "+1 555 123 4567", "[REDACTED]"},
		{"uuid untouched", "123e4567-e89b-12d3-a456-426614174000", "123e4567-e89b-12d3-a456-426614174000"},
		{"plain text", "encounters", "encounters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RedactValue(tt.in); got != tt.want {
				t.Errorf("RedactValue(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestIsSecretKey(t *testing.T) {
	for _, k := range []string{"password", "Access_Token", "client_secret", "X-API-KEY", "apikey"} {
		if !IsSecretKey(k) {
			t.Errorf("IsSecretKey(%q) = false", k)
		}
	}
	for _, k := range []string{"patient", "category", "limit"} {
		if IsSecretKey(k) {
			t.Errorf("IsSecretKey(%q) = true", k)
		}
	}
}

func TestRedactQuery(t *testing.T) {
	q := url.Values{
		"token":  {"eyJhbGciOi"},
		"limit":  {"20"},
		"filter": {"jane@example.com"},
	}
	got := RedactQuery(q)
	want := "filter=[REDACTED]&limit=20"
	if got != want {
		t.Errorf("RedactQuery = %q, want %q", got, want)
	}
	if RedactQuery(nil) != "" {
		t.Error("expected empty string for nil query")
	}
}

func TestRedactMetadata(t *testing.T) {
	got := RedactMetadata(map[string]string{
		"user_agent":    "curl/8.0",
		"authorization": "Bearer abc",
		"note":          "ssn 123-45-6789",
	})
	if _, ok := got["authorization"]; ok {
		t.Error("authorization kept")
	}
	if got["note"] != "ssn [REDACTED]" {
		t.Errorf("note = %q", got["note"])
	}
	if got["user_agent"] != "curl/8.0" {
		t.Errorf("user_agent = %q", got["user_agent"])
	}
	if RedactMetadata(nil) != nil {
		t.Error("expected nil for empty metadata")
	}
}
