package model

// Role is an ordered capability level. Higher roles include everything the
// lower ones may do, expressed as an ordered set rather than inheritance.
type Role int

// Capability levels, lowest to highest.
const (
	RoleUser Role = iota
	RoleApprover
	RoleAdmin
)

var roleNames = map[Role]string{
	RoleUser:     "user",
	RoleApprover: "approver",
	RoleAdmin:    "admin",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "unknown"
}

// ParseRole converts a stored role name back to a Role.
func ParseRole(name string) (Role, bool) {
	for role, n := range roleNames {
		if n == name {
			return role, true
		}
	}
	return RoleUser, false
}

// HasAtLeast reports whether the role grants the given capability level.
func (r Role) HasAtLeast(min Role) bool {
	return r >= min
}

// Actor is a human identity that may drive case transitions. Every
// state-changing call carries one; automated agents are never actors.
type Actor struct {
	Name string
	Role Role
}

// CanApprove reports approver-or-above capability, the predicate guarding
// booking-affecting transitions.
func (a Actor) CanApprove() bool {
	return a.Role.HasAtLeast(RoleApprover)
}

// CanBypassCompliance reports admin capability, the only identity allowed
// to delete audit entries.
func (a Actor) CanBypassCompliance() bool {
	return a.Role.HasAtLeast(RoleAdmin)
}
