package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeaderResolver(t *testing.T) {
	resolver := HeaderResolver{EmailHeader: "X-Auth-Email", NameHeader: "X-Auth-Name"}

	r := httptest.NewRequest("GET", "/", nil)
	_, ok := resolver.Resolve(r)
	assert.False(t, ok)

	r.Header.Set("X-Auth-Email", " alice@example.com ")
	r.Header.Set("X-Auth-Name", "Alice")
	id, ok := resolver.Resolve(r)
	assert.True(t, ok)
	assert.Equal(t, "alice@example.com", id.Email)
	assert.Equal(t, "Alice", id.Name)
}

func TestTokenResolver(t *testing.T) {
	resolver := TokenResolver{Tokens: map[string]Identity{
		"secret-token": {Email: "alice@example.com"},
	}}

	r := httptest.NewRequest("GET", "/", nil)
	_, ok := resolver.Resolve(r)
	assert.False(t, ok)

	r.Header.Set("Authorization", "Bearer wrong-token")
	_, ok = resolver.Resolve(r)
	assert.False(t, ok)

	r.Header.Set("Authorization", "Bearer secret-token")
	id, ok := resolver.Resolve(r)
	assert.True(t, ok)
	assert.Equal(t, "alice@example.com", id.Email)
}

func TestChain(t *testing.T) {
	chain := Chain{
		TokenResolver{Tokens: map[string]Identity{"tok": {Email: "token@example.com"}}},
		HeaderResolver{EmailHeader: "X-Auth-Email"},
	}

	r := httptest.NewRequest("GET", "/", nil)
	_, ok := chain.Resolve(r)
	assert.False(t, ok)

	r.Header.Set("X-Auth-Email", "header@example.com")
	id, ok := chain.Resolve(r)
	assert.True(t, ok)
	assert.Equal(t, "header@example.com", id.Email)

	// Token resolver wins when both are present.
	r.Header.Set("Authorization", "Bearer tok")
	id, ok = chain.Resolve(r)
	assert.True(t, ok)
	assert.Equal(t, "token@example.com", id.Email)
}
