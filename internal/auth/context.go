package auth

import "context"

type userContextKey struct{}

type userInfo struct {
	id    string
	email string
	roles []string
}

// ContextWithUser attaches the authenticated identity to the context.
func ContextWithUser(ctx context.Context, userID, email string, roles []string) context.Context {
	return context.WithValue(ctx, userContextKey{}, userInfo{
		id:    userID,
		email: email,
		roles: dedupeRoles(roles),
	})
}

// UserIDFromContext extracts the authenticated user id from the context.
func UserIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	info, ok := ctx.Value(userContextKey{}).(userInfo)
	if !ok || info.id == "" {
		return "", false
	}
	return info.id, true
}

// EmailFromContext extracts the authenticated email from the context.
func EmailFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	info, ok := ctx.Value(userContextKey{}).(userInfo)
	if !ok || info.email == "" {
		return "", false
	}
	return info.email, true
}

// RolesFromContext returns the deduplicated roles carried by the context.
func RolesFromContext(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	info, ok := ctx.Value(userContextKey{}).(userInfo)
	if !ok {
		return nil
	}
	out := make([]string, len(info.roles))
	copy(out, info.roles)
	return out
}

// HasRole reports whether the context carries the given role.
func HasRole(ctx context.Context, role string) bool {
	for _, r := range RolesFromContext(ctx) {
		if r == role {
			return true
		}
	}
	return false
}
