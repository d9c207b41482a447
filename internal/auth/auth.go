// Package auth performs the accept-time authorization check that runs
// before a session is constructed.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// ErrUnauthorized is returned for a missing or rejected token.
var ErrUnauthorized = errors.New("unauthorized")

// Principal identifies the authorized caller.
type Principal struct {
	UserID string
}

// Authorizer validates a bearer token.
type Authorizer interface {
	Authorize(ctx context.Context, token string) (Principal, error)
}

// AllowAll accepts every connection. Used when auth is disabled.
type AllowAll struct{}

// Authorize implements Authorizer.
func (AllowAll) Authorize(ctx context.Context, token string) (Principal, error) {
	return Principal{UserID: "anonymous"}, nil
}

// StaticTokens accepts a fixed set of tokens. Each entry is either
// "token" or "user:token".
type StaticTokens struct {
	tokens map[string]string // token -> user id
}

// NewStaticTokens builds an authorizer from configured entries.
func NewStaticTokens(entries []string) *StaticTokens {
	s := &StaticTokens{tokens: make(map[string]string, len(entries))}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		user, token, ok := strings.Cut(e, ":")
		if !ok {
			user, token = "token", e
		}
		s.tokens[token] = user
	}
	return s
}

// Authorize implements Authorizer.
func (s *StaticTokens) Authorize(ctx context.Context, token string) (Principal, error) {
	if token == "" {
		return Principal{}, ErrUnauthorized
	}
	for known, user := range s.tokens {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			return Principal{UserID: user}, nil
		}
	}
	return Principal{}, ErrUnauthorized
}

// TokenFromRequest extracts a bearer token from the Authorization header,
// falling back to the token query parameter for clients that cannot set
// headers on a websocket handshake.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
