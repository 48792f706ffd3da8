package assessment

import "context"

type actorContextKey struct{}

// WithActor attaches the acting identity to the context. History snapshots
// record it; an absent actor is stored as a system-initiated change.
func WithActor(ctx context.Context, actorID string) context.Context {
	if actorID == "" {
		return ctx
	}
	return context.WithValue(ctx, actorContextKey{}, actorID)
}

// ActorFromContext returns the acting identity, if any.
func ActorFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(actorContextKey{}).(string); ok {
		return v
	}
	return ""
}
