package authz

import "strings"

// SuperadminRoleID is the reserved legacy role id that bypasses every check.
const SuperadminRoleID int64 = 1

// Policy decides which role assignments make a principal a superadmin.
// It is consulted by discovery only; evaluation reads the resulting flag.
type Policy struct {
	SuperadminRoleID   int64
	SuperadminRoleName string
}

// DefaultPolicy returns the reserved id 1 and the "superadmin" role name.
func DefaultPolicy() Policy {
	return Policy{SuperadminRoleID: SuperadminRoleID, SuperadminRoleName: "superadmin"}
}

// IsSuperadmin reports whether the legacy role pointer or any role name is privileged.
func (p Policy) IsSuperadmin(roleID *int64, roles []string) bool {
	if roleID != nil && p.SuperadminRoleID != 0 && *roleID == p.SuperadminRoleID {
		return true
	}
	if p.SuperadminRoleName == "" {
		return false
	}
	for _, role := range roles {
		if strings.EqualFold(strings.TrimSpace(role), p.SuperadminRoleName) {
			return true
		}
	}
	return false
}
