package api

import "context"

type contextKey int

const (
	ctxKeySubject contextKey = iota
	ctxKeyRole
)

// WithIdentity stores the authenticated caller on the context. The server's
// auth middleware calls this; handlers read it back via Subject and Role.
func WithIdentity(ctx context.Context, subject, role string) context.Context {
	ctx = context.WithValue(ctx, ctxKeySubject, subject)
	return context.WithValue(ctx, ctxKeyRole, role)
}

// Subject returns the authenticated caller's ID, or "" when unauthenticated.
func Subject(ctx context.Context) string {
	s, _ := ctx.Value(ctxKeySubject).(string)
	return s
}

// Role returns the authenticated caller's role, or "" when unauthenticated.
func Role(ctx context.Context) string {
	r, _ := ctx.Value(ctxKeyRole).(string)
	return r
}
