// Package tenant carries the resolved caller scope (identity, role, active
// lab) through a request's context. Repositories resolve the scope and
// refuse to run without one, so an unscoped query cannot be constructed by
// forgetting to pass an option.
package tenant

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Scope is the caller context attached to every authenticated request.
// LabID is the active tenant. A zero LabID means "all tenants" and is only
// ever produced for a super_admin that did not pin an explicit lab.
type Scope struct {
	UserID uuid.UUID
	Role   string
	LabID  uuid.UUID
}

// AllLabs reports whether the scope spans every tenant.
func (s Scope) AllLabs() bool { return s.LabID == uuid.Nil }

type scopeKey struct{}

// WithScope returns a context carrying the given scope.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// FromContext extracts the caller scope from ctx.
func FromContext(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(Scope)
	return s, ok
}

// ErrNoScope is returned by Require when a repository is reached without a
// caller scope. It indicates a wiring bug, not a client error.
var ErrNoScope = errors.New("no caller scope in context")

// Require extracts the caller scope or fails closed.
func Require(ctx context.Context) (Scope, error) {
	s, ok := FromContext(ctx)
	if !ok {
		return Scope{}, ErrNoScope
	}
	return s, nil
}
