package report

import (
	"testing"
	"time"
)

func TestStatusTransitionTable(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusInProgress, true},
		{StatusPending, StatusDelivered, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusCompleted, StatusVerified, true},
		{StatusVerified, StatusDelivered, true},
		{StatusInProgress, StatusPending, false},
		{StatusDelivered, StatusVerified, false},
		{StatusCompleted, StatusCompleted, false},
		{Status("archived"), StatusPending, false},
		{StatusPending, Status("archived"), false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.ok {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestTurnaroundHours(t *testing.T) {
	created := time.Date(2026, time.April, 1, 8, 0, 0, 0, time.UTC)
	delivered := created.Add(50 * time.Hour)

	rep := &Report{Status: StatusCompleted, CreatedAt: created}
	if rep.TurnaroundHours() != nil {
		t.Error("turnaround should be nil before delivery")
	}

	rep.Status = StatusDelivered
	rep.DeliveredAt = &delivered
	if got := rep.TurnaroundHours(); got == nil || *got != 50 {
		t.Errorf("TurnaroundHours() = %v, want 50", got)
	}
}

func TestNewReportIDFormat(t *testing.T) {
	now := time.Date(2026, time.April, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 50; i++ {
		id := NewReportID(now)
		if len(id) != 11 {
			t.Fatalf("identifier %q has length %d, want 11", id, len(id))
		}
		if id[:8] != "TR260401" {
			t.Fatalf("identifier %q does not start with TR260401", id)
		}
		for _, r := range id[8:] {
			if r < '0' || r > '9' {
				t.Fatalf("identifier %q has a non-digit suffix", id)
			}
		}
	}
}
