package auth

import "fmt"

// Role is a position in the privilege hierarchy. Smaller values are more
// privileged: RoleAdmin < RoleManager < RoleUser.
type Role int

const (
	RoleAdmin Role = iota
	RoleManager
	RoleUser
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r >= RoleAdmin && r <= RoleUser
}

// AtLeast reports whether r grants at least the privileges of required,
// i.e. r is required or something above it. Unknown roles never pass.
func (r Role) AtLeast(required Role) bool {
	return r.Valid() && r <= required
}

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleManager:
		return "manager"
	case RoleUser:
		return "user"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}
