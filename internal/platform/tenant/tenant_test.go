package tenant

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestRequireWithoutScope(t *testing.T) {
	_, err := Require(context.Background())
	if !errors.Is(err, ErrNoScope) {
		t.Fatalf("expected ErrNoScope, got %v", err)
	}
}

func TestScopeRoundTrip(t *testing.T) {
	want := Scope{UserID: uuid.New(), Role: "admin", LabID: uuid.New()}
	ctx := WithScope(context.Background(), want)

	got, err := Require(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Errorf("scope mismatch: got %+v, want %+v", got, want)
	}
}

func TestAllLabs(t *testing.T) {
	if !(Scope{Role: "super_admin"}).AllLabs() {
		t.Error("zero lab id should span all labs")
	}
	if (Scope{LabID: uuid.New()}).AllLabs() {
		t.Error("pinned lab id should not span all labs")
	}
}
