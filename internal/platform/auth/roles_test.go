package auth

import "testing"

func TestRoleValidity(t *testing.T) {
	for _, r := range []Role{RoleSuperAdmin, RoleAdmin, RoleTechnician} {
		if !r.Valid() {
			t.Errorf("expected %s to be valid", r)
		}
	}
	if Role("manager").Valid() {
		t.Error("unknown role should be invalid")
	}
}

func TestCanonicalPermissionSets(t *testing.T) {
	tests := []struct {
		role Role
		want []Permission
	}{
		{RoleSuperAdmin, []Permission{PermManageLabs, PermManageAdmins, PermViewAllLabs}},
		{RoleAdmin, []Permission{PermManageTechnicians, PermManageReports, PermViewLabStats}},
		{RoleTechnician, []Permission{PermGenerateReports, PermEditReports, PermViewAssignedReports}},
	}
	for _, tt := range tests {
		got := PermissionsForRole(tt.role)
		if len(got) != len(tt.want) {
			t.Fatalf("%s: got %d permissions, want %d", tt.role, len(got), len(tt.want))
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("%s: permission %d = %s, want %s", tt.role, i, got[i], tt.want[i])
			}
		}
	}
}

func TestPermissionsForUnknownRoleIsEmpty(t *testing.T) {
	if got := PermissionsForRole(Role("manager")); len(got) != 0 {
		t.Errorf("expected empty set, got %v", got)
	}
}

func TestPermissionsForRoleReturnsCopy(t *testing.T) {
	perms := PermissionsForRole(RoleAdmin)
	perms[0] = Permission("tampered")

	if PermissionsForRole(RoleAdmin)[0] != PermManageTechnicians {
		t.Error("mutating the returned slice must not affect the canonical mapping")
	}
}

func TestHasPermission(t *testing.T) {
	if !HasPermission(RoleTechnician, PermEditReports) {
		t.Error("technician should hold edit_reports")
	}
	if HasPermission(RoleSuperAdmin, PermEditReports) {
		t.Error("super_admin holds no report content permissions")
	}
	if HasPermission(RoleAdmin, PermManageLabs) {
		t.Error("admin must not hold manage_labs")
	}
}
