package syslog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lims/lims/internal/platform/tenant"
)

type mockLogRepo struct {
	entries []*Entry
	fail    error
}

func (m *mockLogRepo) Insert(_ context.Context, e *Entry) error {
	if m.fail != nil {
		return m.fail
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockLogRepo) List(_ context.Context, f Filter, limit, offset int) ([]*Entry, int, error) {
	var result []*Entry
	for _, e := range m.entries {
		if f.Level != "" && e.Level != f.Level {
			continue
		}
		if f.Category != "" && e.Category != f.Category {
			continue
		}
		result = append(result, e)
	}
	return result, len(result), nil
}

func (m *mockLogRepo) Prune(_ context.Context, olderThan time.Time) (int64, error) {
	var kept []*Entry
	var deleted int64
	for _, e := range m.entries {
		if e.CreatedAt.Before(olderThan) && e.Level != LevelCritical {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return deleted, nil
}

func TestRecordFillsActorFromScope(t *testing.T) {
	repo := &mockLogRepo{}
	svc := NewService(repo, zerolog.Nop())

	userID, labID := uuid.New(), uuid.New()
	ctx := tenant.WithScope(context.Background(), tenant.Scope{UserID: userID, Role: "admin", LabID: labID})

	svc.Record(ctx, Entry{Category: CategoryReport, Message: "report created"})

	if len(repo.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(repo.entries))
	}
	e := repo.entries[0]
	if e.UserID == nil || *e.UserID != userID {
		t.Error("actor not filled from scope")
	}
	if e.LabID == nil || *e.LabID != labID {
		t.Error("lab not filled from scope")
	}
	if e.Level != LevelInfo {
		t.Errorf("level = %s, want info default", e.Level)
	}
	if e.CreatedAt.IsZero() {
		t.Error("timestamp not set")
	}
}

func TestRecordNeverFailsCaller(t *testing.T) {
	repo := &mockLogRepo{fail: errors.New("store down")}
	svc := NewService(repo, zerolog.Nop())

	// Must not panic or propagate.
	svc.Record(context.Background(), Entry{Category: CategorySystem, Message: "something happened"})
}

func TestRecordKeepsExplicitActor(t *testing.T) {
	repo := &mockLogRepo{}
	svc := NewService(repo, zerolog.Nop())

	explicit := uuid.New()
	ctx := tenant.WithScope(context.Background(), tenant.Scope{UserID: uuid.New(), Role: "admin", LabID: uuid.New()})
	svc.Record(ctx, Entry{Category: CategoryAuth, Message: "password reset", UserID: &explicit})

	if *repo.entries[0].UserID != explicit {
		t.Error("explicit actor overwritten by scope")
	}
}

func TestPruneSparesCritical(t *testing.T) {
	old := time.Now().Add(-48 * time.Hour)
	repo := &mockLogRepo{entries: []*Entry{
		{Level: LevelInfo, CreatedAt: old},
		{Level: LevelCritical, CreatedAt: old},
		{Level: LevelInfo, CreatedAt: time.Now()},
	}}
	svc := NewService(repo, zerolog.Nop())

	deleted, err := svc.Prune(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	if len(repo.entries) != 2 {
		t.Errorf("kept = %d entries, want 2 (critical and recent)", len(repo.entries))
	}
}
