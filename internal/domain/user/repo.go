package user

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lims/lims/internal/platform/auth"
)

// Repository defines the persistence interface for users.
//
// The credential-path methods (GetByEmail, GetByID, reset-token and password
// operations) run before a caller scope exists and are deliberately global.
// Everything else is tenant-scoped: implementations must resolve the caller
// scope from the context and refuse to run without one.
type Repository interface {
	// Credential path (global, pre-auth).
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	SetResetToken(ctx context.Context, id uuid.UUID, tokenHash string, expires time.Time) error
	GetByResetToken(ctx context.Context, tokenHash string) (*User, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error

	// Tenant-scoped.
	Create(ctx context.Context, u *User) error
	Get(ctx context.Context, id uuid.UUID) (*User, error)
	Update(ctx context.Context, u *User) error
	UpdateRole(ctx context.Context, id uuid.UUID, role auth.Role) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, role auth.Role, limit, offset int) ([]*User, int, error)

	// Counters used by the lab service for deletion, limit and stats checks.
	CountByLab(ctx context.Context, labID uuid.UUID) (int, error)
	CountActiveByLab(ctx context.Context, labID uuid.UUID) (int, error)
	CountsByRole(ctx context.Context, labID uuid.UUID) (map[string]int, error)
}
