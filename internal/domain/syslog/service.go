package syslog

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/lims/lims/internal/platform/tenant"
)

// Recorder is the audit logging collaborator injected into domain services.
// Implementations must never fail the caller: recording errors are swallowed
// and reported on a fallback channel only.
type Recorder interface {
	Record(ctx context.Context, e Entry)
}

// Service persists audit entries and serves the super_admin log surface.
type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Record writes an audit entry, attributing it to the caller scope when the
// entry does not name an actor. Failures are logged and never propagated —
// audit logging must not abort the business operation it describes.
func (s *Service) Record(ctx context.Context, e Entry) {
	if e.Level == "" {
		e.Level = LevelInfo
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if scope, ok := tenant.FromContext(ctx); ok {
		if e.UserID == nil {
			uid := scope.UserID
			e.UserID = &uid
		}
		if e.LabID == nil && !scope.AllLabs() {
			lid := scope.LabID
			e.LabID = &lid
		}
	}

	if err := s.repo.Insert(context.WithoutCancel(ctx), &e); err != nil {
		s.logger.Error().
			Err(err).
			Str("category", string(e.Category)).
			Str("message", e.Message).
			Msg("audit entry dropped")
		return
	}

	if e.Level == LevelCritical {
		s.logger.Error().
			Str("category", string(e.Category)).
			Interface("details", e.Details).
			Msg(e.Message)
	}
}

// List returns audit entries matching the filter. Exposed to super_admin only.
func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Entry, int, error) {
	return s.repo.List(ctx, f, limit, offset)
}

// Prune removes entries older than retention, sparing critical rows.
func (s *Service) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	return s.repo.Prune(ctx, time.Now().UTC().Add(-retention))
}
