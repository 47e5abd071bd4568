// Package auth resolves caller identity from bearer tokens and enforces
// role- and permission-based access policy before any domain logic runs.
package auth

// Role is a caller's coarse-grained position in a lab.
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleTechnician Role = "technician"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleTechnician:
		return true
	}
	return false
}

// Permission is a fine-grained capability string gating one operation class.
// Permissions are a pure function of role: they are never stored or accepted
// as independent input, so they cannot drift from the canonical mapping.
type Permission string

const (
	PermManageLabs          Permission = "manage_labs"
	PermManageAdmins        Permission = "manage_admins"
	PermViewAllLabs         Permission = "view_all_labs"
	PermManageTechnicians   Permission = "manage_technicians"
	PermManageReports       Permission = "manage_reports"
	PermViewLabStats        Permission = "view_lab_stats"
	PermGenerateReports     Permission = "generate_reports"
	PermEditReports         Permission = "edit_reports"
	PermViewAssignedReports Permission = "view_assigned_reports"
)

var rolePermissions = map[Role][]Permission{
	RoleSuperAdmin: {PermManageLabs, PermManageAdmins, PermViewAllLabs},
	RoleAdmin:      {PermManageTechnicians, PermManageReports, PermViewLabStats},
	RoleTechnician: {PermGenerateReports, PermEditReports, PermViewAssignedReports},
}

// PermissionsForRole returns the canonical permission set for a role.
func PermissionsForRole(r Role) []Permission {
	perms := rolePermissions[r]
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}

// HasPermission reports whether the role's derived set contains p.
func HasPermission(r Role, p Permission) bool {
	for _, granted := range rolePermissions[r] {
		if granted == p {
			return true
		}
	}
	return false
}
