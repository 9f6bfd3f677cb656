package auth

import "strings"

// Role is the closed set of roles a user or code grant can carry.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// ParseRole normalizes and validates a role string.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.TrimSpace(strings.ToLower(s)))
	switch r {
	case RoleOwner, RoleAdmin, RoleEditor, RoleViewer:
		return r, true
	}
	return "", false
}

// Valid reports whether the role belongs to the closed set.
func (r Role) Valid() bool {
	_, ok := ParseRole(string(r))
	return ok
}

// Permission is a namespaced capability string, e.g. "codes:create".
// A grant of "ns:*" covers every permission in the namespace; "*" covers all.
type Permission string

const (
	PermUsersRead       Permission = "users:read"
	PermUsersUpdate     Permission = "users:update"
	PermUsersManageRole Permission = "users:manage_roles"
	PermCodesRead       Permission = "codes:read"
	PermCodesCreate     Permission = "codes:create"
	PermCodesDelete     Permission = "codes:delete"
	PermContentRead     Permission = "content:read"
	PermContentCreate   Permission = "content:create"
	PermContentUpdate   Permission = "content:update"
	PermContentDelete   Permission = "content:delete"
	PermAuditRead       Permission = "audit:read"

	// PermAll is the unrestricted grant held by owners.
	PermAll Permission = "*"
)

var rolePermissions = map[Role][]Permission{
	RoleOwner: {PermAll},
	RoleAdmin: {
		PermUsersRead, PermUsersUpdate, PermUsersManageRole,
		PermCodesRead, PermCodesCreate, PermCodesDelete,
		PermContentRead, PermContentCreate, PermContentUpdate, PermContentDelete,
		PermAuditRead,
	},
	RoleEditor: {PermContentRead, PermContentCreate, PermContentUpdate, PermCodesRead},
	RoleViewer: {PermContentRead},
}

// HasPermission reports whether role is granted the required permission.
// Unknown roles have the empty permission set. The table is static but the
// evaluation is done fresh on every call: a caller's role may change between
// requests and no result may be cached across them.
func HasPermission(role Role, required Permission) bool {
	if required == "" {
		return false
	}
	for _, granted := range rolePermissions[role] {
		if permissionCovers(granted, required) {
			return true
		}
	}
	return false
}

func permissionCovers(granted, required Permission) bool {
	if granted == PermAll {
		return true
	}
	if granted == required {
		return true
	}
	if ns, ok := strings.CutSuffix(string(granted), ":*"); ok {
		return strings.HasPrefix(string(required), ns+":")
	}
	return false
}
