package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
)

func TestAllowAll(t *testing.T) {
	p, err := AllowAll{}.Authorize(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.UserID == "" {
		t.Error("expected a user id")
	}
}

func TestStaticTokens(t *testing.T) {
	a := NewStaticTokens([]string{"alice:secret-a", " bare-token ", ""})

	tests := []struct {
		name     string
		token    string
		wantUser string
		wantErr  error
	}{
		{"user token", "secret-a", "alice", nil},
		{"bare token", "bare-token", "token", nil},
		{"unknown", "nope", "", ErrUnauthorized},
		{"empty", "", "", ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := a.Authorize(context.Background(), tt.token)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if p.UserID != tt.wantUser {
				t.Errorf("expected user %q, got %q", tt.wantUser, p.UserID)
			}
		})
	}
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		header string
		want   string
	}{
		{"bearer header", "/ws", "Bearer abc", "abc"},
		{"case insensitive scheme", "/ws", "bearer abc", "abc"},
		{"other scheme", "/ws", "Basic abc", ""},
		{"query param", "/ws?token=xyz", "", "xyz"},
		{"header wins", "/ws?token=xyz", "Bearer abc", "abc"},
		{"none", "/ws", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.url, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if got := TokenFromRequest(r); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
