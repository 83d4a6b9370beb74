package auth

// Permission represents a named capability in the system.
type Permission string

// Permission constants.
const (
	PermPLCRead       Permission = "plc:read"
	PermPLCOperate    Permission = "plc:operate"
	PermPLCConfigure  Permission = "plc:configure"
	PermUserManage    Permission = "user:manage"
	PermUserManageAll Permission = "user:manage:all"
)

// rolePermissions maps each role to its granted permissions.
// This is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleUser: {
		PermPLCRead,
		PermPLCOperate,
	},
	RoleAdmin: {
		PermPLCRead,
		PermPLCOperate,
		PermPLCConfigure,
		PermUserManage,
	},
	RoleOwner: {
		PermPLCRead,
		PermPLCOperate,
		PermPLCConfigure,
		PermUserManage,
		PermUserManageAll,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns all permissions granted to a role.
// Returns nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	result := make([]Permission, len(perms))
	copy(result, perms)
	return result
}

// CanAssignRole reports whether an actor with role actor may create or
// modify an account holding role target. Only owners manage owners.
func CanAssignRole(actor, target Role) bool {
	if !HasPermission(actor, PermUserManage) || !IsValidUserRole(target) {
		return false
	}
	if target == RoleOwner {
		return HasPermission(actor, PermUserManageAll)
	}
	return true
}
