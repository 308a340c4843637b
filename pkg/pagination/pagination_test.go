package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestFromContext(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  Params
	}{
		{"defaults", "", Params{Limit: DefaultLimit, Offset: 0}},
		{"custom", "?limit=50&offset=10", Params{Limit: 50, Offset: 10}},
		{"capped", "?limit=500", Params{Limit: MaxLimit, Offset: 0}},
		{"negative offset", "?offset=-5", Params{Limit: DefaultLimit, Offset: 0}},
		{"zero limit", "?limit=0", Params{Limit: DefaultLimit, Offset: 0}},
		{"garbage", "?limit=ten&offset=x", Params{Limit: DefaultLimit, Offset: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/"+tt.query, nil), httptest.NewRecorder())
			if got := FromContext(c); got != tt.want {
				t.Errorf("FromContext() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParams_HasNext(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		total  int
		want   bool
	}{
		{"more results", Params{Limit: 10, Offset: 0}, 25, true},
		{"exact end", Params{Limit: 10, Offset: 15}, 25, false},
		{"past end", Params{Limit: 10, Offset: 30}, 25, false},
		{"no results", Params{Limit: 10, Offset: 0}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.params.HasNext(tt.total); got != tt.want {
				t.Errorf("HasNext() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewResponse(t *testing.T) {
	r := NewResponse([]string{"a", "b", "c"}, 10, 3, 3)
	if !r.HasMore || r.NextOffset == nil || *r.NextOffset != 6 {
		t.Errorf("expected next offset 6, got %+v", r)
	}

	last := NewResponse([]string{"a"}, 4, 3, 3)
	if last.HasMore || last.NextOffset != nil {
		t.Errorf("expected final page, got %+v", last)
	}
}
