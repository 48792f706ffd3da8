package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"webcaf.uk/internal/assessment"
	"webcaf.uk/internal/auth"
)

// publicPath reports whether a path is served without a bearer token.
func publicPath(p string) bool {
	switch p {
	case "/healthz", "/readyz", "/metrics", "/v1/info":
		return true
	}
	return false
}

// withAuth verifies the bearer token and resolves the caller's profile.
// Verification is enforced only when a signing secret is configured, so
// local development without an identity provider keeps working.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPath(r.URL.Path) || r.Method == http.MethodOptions || !auth.Configured() {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, r, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := auth.ParseAndValidate(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := r.Context()
		actor := claims.Subject
		roles := claims.Roles
		profile, err := a.svc.FindUserProfileByEmail(ctx, claims.Email)
		switch {
		case err == nil:
			actor = profile.ID
			roles = append(roles, string(profile.Role))
		case errors.Is(err, assessment.ErrNotFound):
			// Token verified but no profile yet; the actor falls back
			// to the token subject.
		default:
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}

		ctx = auth.ContextWithUser(ctx, actor, claims.Email, roles)
		ctx = assessment.WithActor(ctx, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
