package model

// Role tags how the current user relates to a medication.
type Role string

const (
	RoleOwner    Role = "owner"
	RoleGuardian Role = "guardian"
)

type Capability string

const (
	CapView   Capability = "view"
	CapToggle Capability = "toggle"
	CapEdit   Capability = "edit"
	CapDelete Capability = "delete"
)

// Can reports whether the role grants c. Guardians may view and toggle
// adherence but never edit or delete.
func (r Role) Can(c Capability) bool {
	switch r {
	case RoleOwner:
		return true
	case RoleGuardian:
		return c == CapView || c == CapToggle
	default:
		return false
	}
}
