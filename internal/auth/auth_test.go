package auth

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr error
	}{
		{"Bearer abc", "abc", nil},
		{"Bearer   abc  ", "abc", nil},
		{"bearer abc", "abc", nil},
		{"", "", ErrNoToken},
		{"Basic abc", "", ErrBadScheme},
		{"Bearer", "", ErrEmptyToken},
		{"Bearer    ", "", ErrEmptyToken},
	}

	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/", nil)
		if tt.header != "" {
			r.Header.Set("Authorization", tt.header)
		}
		got, err := ExtractBearerToken(r)
		if tt.wantErr != nil {
			assert.ErrorIs(t, err, tt.wantErr, tt.header)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestAuthenticate(t *testing.T) {
	tokens := []TokenConfig{
		{Token: "reader", Scopes: []string{"logs:ro"}},
		{Token: "writer", Scopes: []string{" logs:rw ", ""}},
	}

	p, ok := Authenticate("admin", "admin", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, ScopeLogsWrite))

	p, ok = Authenticate("reader", "admin", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, ScopeLogsRead))
	assert.False(t, HasAnyScope(p, ScopeLogsWrite))

	p, ok = Authenticate("writer", "admin", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, ScopeLogsRead), "rw implies ro")
	assert.True(t, HasAnyScope(p, ScopeLogsWrite))
	assert.NotContains(t, p.Scopes, "")

	_, ok = Authenticate("nobody", "admin", tokens)
	assert.False(t, ok)

	// An empty api key never matches.
	_, ok = Authenticate("", "", nil)
	assert.False(t, ok)
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithPrincipal(context.Background(), Principal{Token: "t"})
	p, ok := PrincipalFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "t", p.Token)
	assert.True(t, HasAnyScope(p))
}

func TestPrincipalHas(t *testing.T) {
	p, ok := Authenticate("w", "", []TokenConfig{{Token: "w", Scopes: []string{ScopeLogsWrite}}})
	require.True(t, ok)
	assert.True(t, p.Has(ScopeLogsRead))
	assert.False(t, p.Has("jobs:ro"))

	admin, ok := Authenticate("k", "k", nil)
	require.True(t, ok)
	assert.True(t, admin.Has("anything"))
}
