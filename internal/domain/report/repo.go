package report

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrVersionConflict is returned by Update when the row changed since the
// caller read it.
var ErrVersionConflict = errors.New("report modified concurrently")

// Filter narrows List results. Zero values mean "no filter". From and To
// bound created_at; To is exclusive.
type Filter struct {
	Status     Status
	Priority   Priority
	TestType   string
	PatientID  uuid.UUID
	AssignedTo uuid.UUID
	From       time.Time
	To         time.Time
}

// Stats is the per-tenant report aggregate. AvgTurnaroundHours covers
// delivered reports only and is nil when none have been delivered.
type Stats struct {
	Total              int            `json:"total"`
	ThisMonth          int            `json:"this_month"`
	ByStatus           map[string]int `json:"by_status"`
	AvgTurnaroundHours *float64       `json:"avg_turnaround_hours"`
}

// Repository defines the persistence interface for reports. All methods up
// to the counters are tenant-scoped; the counters take an explicit lab id
// because the lab service calls them from super admin paths.
type Repository interface {
	Create(ctx context.Context, r *Report) error
	Get(ctx context.Context, id uuid.UUID) (*Report, error)

	// Update writes the full row but only if r.Version still matches the
	// stored one; on success the version is bumped. A stale version yields
	// ErrVersionConflict.
	Update(ctx context.Context, r *Report) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Report, int, error)
	Stats(ctx context.Context, since time.Time) (*Stats, error)

	// Counters used by the lab service for limit and stats checks.
	CountByLab(ctx context.Context, labID uuid.UUID) (int, error)
	CountByLabSince(ctx context.Context, labID uuid.UUID, since time.Time) (int, error)
	CountsByStatus(ctx context.Context, labID uuid.UUID) (map[string]int, error)
}
