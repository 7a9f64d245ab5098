package auth

// Principal is a user with their resolved permission set.
type Principal struct {
	User        *User
	Permissions map[string]struct{}
}

// NewPrincipal builds a principal from a user and permission codenames.
func NewPrincipal(user *User, codenames []string) Principal {
	set := make(map[string]struct{}, len(codenames))
	for _, c := range codenames {
		set[c] = struct{}{}
	}
	return Principal{User: user, Permissions: set}
}

// HasPermission reports whether the principal holds the permission codename.
// Absence is a plain false, never an error.
func (p Principal) HasPermission(codename string) bool {
	_, ok := p.Permissions[codename]
	return ok
}

// PermissionList returns the held codenames in unspecified order.
func (p Principal) PermissionList() []string {
	out := make([]string, 0, len(p.Permissions))
	for c := range p.Permissions {
		out = append(out, c)
	}
	return out
}
