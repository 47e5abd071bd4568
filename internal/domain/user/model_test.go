package user

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/lims/lims/internal/platform/auth"
)

func TestMarshalIncludesDerivedPermissions(t *testing.T) {
	u := &User{Name: "Sam", Role: auth.RoleTechnician, PasswordHash: "secret-hash"}

	raw, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(raw)

	if !strings.Contains(s, `"generate_reports"`) {
		t.Errorf("derived permissions missing from payload: %s", s)
	}
	if strings.Contains(s, "secret-hash") {
		t.Errorf("password hash leaked into payload: %s", s)
	}
}

func TestMarshalNeverLeaksResetToken(t *testing.T) {
	hash := "reset-hash"
	u := &User{Name: "Sam", Role: auth.RoleAdmin, ResetTokenHash: &hash}

	raw, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(raw), "reset-hash") {
		t.Errorf("reset token hash leaked into payload: %s", raw)
	}
}

func TestAccountReflectsStatus(t *testing.T) {
	u := &User{Role: auth.RoleAdmin, Status: StatusSuspended}
	if u.Account().Active {
		t.Error("suspended user reported as active")
	}
	u.Status = StatusActive
	if !u.Account().Active {
		t.Error("active user reported as inactive")
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u := &User{PasswordHash: hash}
	if !u.CheckPassword("correct horse") {
		t.Error("hash does not verify its own password")
	}
	if u.CheckPassword("battery staple") {
		t.Error("hash verifies the wrong password")
	}
}
