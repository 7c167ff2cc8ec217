// Package auth maps gateway bearer tokens to the log scopes they hold.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

const (
	// ScopeLogsRead covers fetching, viewing and tailing logs, plus audit and events.
	ScopeLogsRead = "logs:ro"
	// ScopeLogsWrite covers log removal and implies ScopeLogsRead.
	ScopeLogsWrite = "logs:rw"
	// ScopeAll is held by the api_key and by tokens granted "*".
	ScopeAll = "*"
)

var (
	ErrNoToken    = errors.New("missing bearer token")
	ErrBadScheme  = errors.New("authorization scheme must be Bearer")
	ErrEmptyToken = errors.New("empty bearer token")
)

// implied lists the scopes a scope grants on top of itself.
var implied = map[string][]string{
	ScopeLogsWrite: {ScopeLogsRead},
}

// TokenConfig is one configured gateway token.
type TokenConfig struct {
	Token  string
	Scopes []string
}

// Principal is the caller behind an accepted token. Scopes already include
// implied scopes.
type Principal struct {
	Token  string
	Scopes map[string]struct{}
}

// Has reports whether p holds scope, directly or through "*".
func (p Principal) Has(scope string) bool {
	if _, ok := p.Scopes[ScopeAll]; ok {
		return true
	}
	_, ok := p.Scopes[scope]
	return ok
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// ExtractBearerToken reads the token from the Authorization header. The
// scheme name is matched case-insensitively.
func ExtractBearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", ErrNoToken
	}
	scheme, token, _ := strings.Cut(header, " ")
	if !strings.EqualFold(scheme, "Bearer") {
		return "", ErrBadScheme
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrEmptyToken
	}
	return token, nil
}

// Authenticate resolves presented against the api_key and the token list.
// Every candidate is compared in constant time.
func Authenticate(presented, apiKey string, tokens []TokenConfig) (Principal, bool) {
	if tokenMatches(presented, apiKey) {
		return Principal{Token: presented, Scopes: grant([]string{ScopeAll})}, true
	}
	for _, t := range tokens {
		if tokenMatches(presented, t.Token) {
			return Principal{Token: presented, Scopes: grant(t.Scopes)}, true
		}
	}
	return Principal{}, false
}

// tokenMatches never matches an unset token.
func tokenMatches(presented, want string) bool {
	if presented == "" || want == "" || len(presented) != len(want) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(want)) == 1
}

func grant(scopes []string) map[string]struct{} {
	set := make(map[string]struct{}, len(scopes)+1)
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		set[s] = struct{}{}
		for _, extra := range implied[s] {
			set[extra] = struct{}{}
		}
	}
	return set
}

// HasAnyScope reports whether p holds at least one of required. An empty
// requirement always passes.
func HasAnyScope(p Principal, required ...string) bool {
	if len(required) == 0 {
		return true
	}
	for _, s := range required {
		if p.Has(s) {
			return true
		}
	}
	return false
}
