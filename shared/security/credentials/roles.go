package credentials

import (
	"fmt"
	"strings"
)

// Role - user role within an organization
type Role string

const (
	RoleAgent   Role = "agent"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

// roleRank orders the roles; a new role is one line here.
var roleRank = map[Role]int{
	RoleAgent:   1,
	RoleManager: 2,
	RoleAdmin:   3,
}

// ParseRole converts s into a known Role.
func ParseRole(s string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := roleRank[role]; !ok {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return role, nil
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// HasPermission reports whether role satisfies required. Unknown roles
// satisfy nothing.
func HasPermission(role, required Role) bool {
	have, ok := roleRank[role]
	if !ok {
		return false
	}
	need, ok := roleRank[required]
	if !ok {
		return false
	}
	return have >= need
}
