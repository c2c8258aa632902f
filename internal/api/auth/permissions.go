package auth

// Permission sentinels: any of these in a permission set satisfies every
// gated check regardless of the specific permission requested.
const (
	PermissionAll        = "all"
	PermissionAdmin      = "admin"
	PermissionAdminUpper = "ADMIN"
)

// HasPermission reports whether the set grants the required permission,
// either by exact match or through a sentinel.
func HasPermission(permissions []string, required string) bool {
	for _, p := range permissions {
		if p == required || p == PermissionAll || p == PermissionAdmin || p == PermissionAdminUpper {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the set contains one of the admin sentinels.
func IsAdmin(permissions []string) bool {
	for _, p := range permissions {
		if p == PermissionAll || p == PermissionAdmin || p == PermissionAdminUpper {
			return true
		}
	}
	return false
}
