package lab

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the persistence interface for labs. Labs are the
// tenant roots themselves and are managed only by super_admin routes, so
// these methods are not lab-filtered.
type Repository interface {
	Create(ctx context.Context, l *Lab) error
	GetByID(ctx context.Context, id uuid.UUID) (*Lab, error)
	Update(ctx context.Context, l *Lab) error
	UpdateSubscription(ctx context.Context, id uuid.UUID, s Subscription) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Lab, int, error)
	Exists(ctx context.Context, id uuid.UUID) (bool, error)

	// UserLimit and ReportLimit resolve a lab's subscription tier to its
	// caps. Unlimited tiers report -1. The user and report services consult
	// these before creating rows.
	UserLimit(ctx context.Context, id uuid.UUID) (int, error)
	ReportLimit(ctx context.Context, id uuid.UUID) (int, error)

	// ReportBranding returns the lab name and the configured report header
	// and footer for rendered exports.
	ReportBranding(ctx context.Context, id uuid.UUID) (name, header, footer string, err error)
}

// UserCounter is the slice of the user repository the lab service needs.
type UserCounter interface {
	CountByLab(ctx context.Context, labID uuid.UUID) (int, error)
	CountActiveByLab(ctx context.Context, labID uuid.UUID) (int, error)
	CountsByRole(ctx context.Context, labID uuid.UUID) (map[string]int, error)
}

// ReportCounter is the slice of the report repository the lab service needs.
type ReportCounter interface {
	CountByLab(ctx context.Context, labID uuid.UUID) (int, error)
	CountByLabSince(ctx context.Context, labID uuid.UUID, since time.Time) (int, error)
	CountsByStatus(ctx context.Context, labID uuid.UUID) (map[string]int, error)
}
