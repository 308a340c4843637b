package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestParseLimit(t *testing.T) {
	tests := map[string]int64{
		"1M":      1 << 20,
		"1MB":     1 << 20,
		"64K":     64 << 10,
		" 512k ":  512 << 10,
		"1G":      1 << 30,
		"1024":    1024,
		"":        1 << 20,
		"invalid": 1 << 20,
		"-5K":     1 << 20,
	}
	for input, want := range tests {
		if got := parseLimit(input); got != want {
			t.Errorf("parseLimit(%q) = %d, want %d", input, got, want)
		}
	}
}

func TestBodyLimit(t *testing.T) {
	readAll := func(c echo.Context) error {
		_, err := io.ReadAll(c.Request().Body)
		return err
	}

	tests := []struct {
		name          string
		limit         string
		body          []byte
		contentLength int64
		wantCalled    bool
		wantTooLarge  bool
	}{
		{"within limit", "1K", []byte(`{"email":"a@b.co"}`), 0, true, false},
		{"no body", "1", nil, 0, true, false},
		{"declared too large", "1K", bytes.Repeat([]byte("a"), 2048), 0, false, true},
		{"chunked overflow", "512", bytes.Repeat([]byte("a"), 1024), -1, true, true},
		{"exactly at limit", "512", bytes.Repeat([]byte("a"), 512), -1, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.body != nil {
				body = bytes.NewReader(tt.body)
			}
			req := httptest.NewRequest(http.MethodPost, "/api/v1/patients/p1/consents", body)
			if tt.contentLength != 0 {
				req.ContentLength = tt.contentLength
			}
			c := echo.New().NewContext(req, httptest.NewRecorder())

			called := false
			err := BodyLimit(tt.limit)(func(c echo.Context) error {
				called = true
				return readAll(c)
			})(c)

			if called != tt.wantCalled {
				t.Errorf("handler called = %v, want %v", called, tt.wantCalled)
			}
			var he *echo.HTTPError
			tooLarge := errors.As(err, &he) && he.Code == http.StatusRequestEntityTooLarge
			if tooLarge != tt.wantTooLarge {
				t.Errorf("err = %v, want 413 = %v", err, tt.wantTooLarge)
			}
		})
	}
}
