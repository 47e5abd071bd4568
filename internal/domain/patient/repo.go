package patient

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the persistence interface for patients. Every method
// is tenant-scoped: implementations resolve the caller scope from the
// context and refuse to run without one.
type Repository interface {
	Create(ctx context.Context, p *Patient) error
	Get(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, status Status, limit, offset int) ([]*Patient, int, error)

	// Search matches name (substring), phone and patient identifier.
	Search(ctx context.Context, query string, limit int) ([]*Patient, error)
}
