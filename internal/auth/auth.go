// Package auth resolves caller identity. The token handshake itself belongs
// to an external identity collaborator; this package only extracts what that
// collaborator asserts about a request. Absence of an identity means the
// caller is a guest, and guests are still served, just without persistence.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Identity is what the authentication collaborator asserts about a caller.
type Identity struct {
	Email string
	Name  string
}

type Resolver interface {
	Resolve(r *http.Request) (Identity, bool)
}

// HeaderResolver trusts identity headers set by an authenticating reverse
// proxy. Only deploy it behind a proxy that strips these headers from
// client-supplied requests.
type HeaderResolver struct {
	EmailHeader string
	NameHeader  string
}

func (h HeaderResolver) Resolve(r *http.Request) (Identity, bool) {
	email := strings.TrimSpace(r.Header.Get(h.EmailHeader))
	if email == "" {
		return Identity{}, false
	}
	return Identity{Email: email, Name: r.Header.Get(h.NameHeader)}, true
}

// TokenResolver maps static bearer tokens to identities. Comparison is
// constant-time.
type TokenResolver struct {
	Tokens map[string]Identity
}

func (t TokenResolver) Resolve(r *http.Request) (Identity, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return Identity{}, false
	}
	presented := strings.TrimPrefix(header, "Bearer ")
	for token, id := range t.Tokens {
		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) == 1 {
			return id, true
		}
	}
	return Identity{}, false
}

// Chain tries each resolver in order and returns the first identity found.
type Chain []Resolver

func (c Chain) Resolve(r *http.Request) (Identity, bool) {
	for _, resolver := range c {
		if id, ok := resolver.Resolve(r); ok {
			return id, true
		}
	}
	return Identity{}, false
}
