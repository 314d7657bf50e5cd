package model

// Role is the caller's role as asserted by the identity provider.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// WhitelistStatus is the admin-controlled gate for paid features.
type WhitelistStatus string

const (
	WhitelistPending  WhitelistStatus = "pending"
	WhitelistApproved WhitelistStatus = "approved"
	WhitelistRejected WhitelistStatus = "rejected"
)

// Identity is the resolved, verified caller passed explicitly into every
// orchestrator and ledger call. There is no ambient "current user".
type Identity struct {
	UserID    string          `json:"user_id"`
	Email     string          `json:"email"`
	Role      Role            `json:"role"`
	Whitelist WhitelistStatus `json:"whitelist_status"`
}

// Approved reports whether the caller may use paid features.
func (i Identity) Approved() bool {
	return i.Whitelist == WhitelistApproved
}

// IsAdmin reports whether the caller has the admin role.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}
