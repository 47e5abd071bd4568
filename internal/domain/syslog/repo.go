package syslog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Filter narrows audit log listings.
type Filter struct {
	Level    Level
	Category Category
	LabID    *uuid.UUID
	Since    *time.Time
	Until    *time.Time
}

// Repository defines the persistence interface for audit entries.
type Repository interface {
	Insert(ctx context.Context, e *Entry) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Entry, int, error)
	// Prune deletes entries older than the cutoff, keeping critical-level
	// rows regardless of age. Returns the number of deleted rows.
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}
