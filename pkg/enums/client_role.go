package enums

import "fmt"

// ClientRole scopes what a sync client may call.
type ClientRole string

const (
	ClientRoleSync  ClientRole = "sync"
	ClientRoleAdmin ClientRole = "admin"
)

var validClientRoles = []ClientRole{
	ClientRoleSync,
	ClientRoleAdmin,
}

// String implements fmt.Stringer.
func (r ClientRole) String() string {
	return string(r)
}

// IsValid reports whether the value is a known ClientRole.
func (r ClientRole) IsValid() bool {
	for _, candidate := range validClientRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseClientRole converts raw input into a ClientRole.
func ParseClientRole(value string) (ClientRole, error) {
	for _, candidate := range validClientRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid client role %q", value)
}
