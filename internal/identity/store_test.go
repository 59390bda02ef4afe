package identity

import (
	"net/http/httptest"
	"testing"
)

func TestStoreBindLookupRemove(t *testing.T) {
	s := NewStore()

	s.Bind("conn-1", "alice")
	s.Bind("conn-2", "")

	if id, ok := s.Lookup("conn-1"); !ok || id != "alice" {
		t.Errorf("Lookup(conn-1) = %q, %v; want alice, true", id, ok)
	}
	if _, ok := s.Lookup("conn-2"); ok {
		t.Error("empty identity should not be bound")
	}
	if s.Count() != 1 {
		t.Errorf("Count() = %d, want 1", s.Count())
	}

	s.Remove("conn-1")
	if _, ok := s.Lookup("conn-1"); ok {
		t.Error("identity still bound after Remove")
	}
}

func TestTokenAuthenticator(t *testing.T) {
	auth := NewTokenAuthenticator(map[string]string{"secret": "bob"})

	tests := []struct {
		name   string
		header string
		query  string
		want   Identity
		wantOK bool
	}{
		{"bearer header", "Bearer secret", "", "bob", true},
		{"lowercase scheme", "bearer secret", "", "bob", true},
		{"query fallback", "", "access_token=secret", "bob", true},
		{"unknown token", "Bearer nope", "", "", false},
		{"no credentials", "", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := "/hub/negotiate"
			if tt.query != "" {
				url += "?" + tt.query
			}
			req := httptest.NewRequest("POST", url, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			got, ok := auth.Authenticate(req)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Authenticate() = %q, %v; want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestHeaderAuthenticator(t *testing.T) {
	auth := HeaderAuthenticator{Header: "X-Enterprise-Id"}

	req := httptest.NewRequest("POST", "/hub/negotiate", nil)
	if _, ok := auth.Authenticate(req); ok {
		t.Error("missing header should be anonymous")
	}

	req.Header.Set("X-Enterprise-Id", "  carol ")
	if id, ok := auth.Authenticate(req); !ok || id != "carol" {
		t.Errorf("Authenticate() = %q, %v; want carol, true", id, ok)
	}
}
