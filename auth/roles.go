package auth

import (
	"strings"

	"github.com/workflo/cmsauth/store"
)

// Permission strings are "resource:action", "resource:*" grants every
// action on the resource. Admins are not listed, they are allowed everything.
var permissions = map[store.Role][]string{
	store.RoleEditor: {
		"articles:*",
		"media:*",
		"tags:*",
	},
	store.RoleViewer: {
		"articles:read",
		"media:read",
		"tags:read",
	},
}

const (
	PermManageUsers   = "users:manage"
	PermSweepSessions = "sessions:sweep"
	PermReadAudit     = "audit:read"
)

// HasRole reports whether u holds one of roles. Admins satisfy any role
// and an empty list is satisfied by every active user.
func HasRole(u *store.User, roles ...store.Role) bool {
	if u == nil || !u.Active {
		return false
	}
	if u.Role == store.RoleAdmin || len(roles) == 0 {
		return true
	}
	for _, r := range roles {
		if u.Role == r {
			return true
		}
	}
	return false
}

// HasPermission checks action against the static permission table.
// When resource is not empty the permission checked is "resource:action".
func HasPermission(u *store.User, action string, resource string) bool {
	if u == nil || !u.Active {
		return false
	}
	if u.Role == store.RoleAdmin {
		return true
	}
	perm := action
	if resource != "" {
		perm = resource + ":" + action
	}
	for _, p := range permissions[u.Role] {
		if p == perm {
			return true
		}
		if strings.HasSuffix(p, ":*") && strings.HasPrefix(perm, strings.TrimSuffix(p, "*")) {
			return true
		}
	}
	return false
}

// Permissions lists what role may do, nil for admin (everything).
func Permissions(role store.Role) []string {
	return append([]string(nil), permissions[role]...)
}
