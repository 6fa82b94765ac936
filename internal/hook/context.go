package hook

import "context"

type managerKey struct{}

// WithManager attaches m to ctx. Episodes without their own manager use the
// one found here.
func WithManager(ctx context.Context, m *Manager) context.Context {
	return context.WithValue(ctx, managerKey{}, m)
}

// FromContext returns the manager attached to ctx, or nil.
func FromContext(ctx context.Context) *Manager {
	m, _ := ctx.Value(managerKey{}).(*Manager)
	return m
}
