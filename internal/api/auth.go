package api

import (
	"net/http"

	"github.com/mattjoyce/tasklog/internal/auth"
)

// authMiddleware attaches the caller's Principal or answers 401.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.ExtractBearerToken(r)
		if err != nil {
			s.unauthorized(w, err.Error())
			return
		}
		principal, ok := auth.Authenticate(token, s.config.APIKey, s.config.Tokens)
		if !ok {
			s.unauthorized(w, "unknown token")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

func (s *Server) unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="tasklog"`)
	s.writeError(w, http.StatusUnauthorized, msg)
}

// requireScopes lets a request through when the caller holds any of scopes.
func (s *Server) requireScopes(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, _ := auth.PrincipalFromContext(r.Context())
			if !auth.HasAnyScope(principal, scopes...) {
				s.logger.Debug("scope denied", "path", r.URL.Path, "required", scopes)
				s.writeError(w, http.StatusForbidden, "token lacks scope "+scopes[0])
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
