package users

import "github.com/jrsteele09/go-admin-session/tenants"

// Principal is the authenticated identity returned by GET /auth/me.
type Principal struct {
	ID           string          `json:"id"`
	Email        string          `json:"email"`
	DisplayName  string          `json:"display_name,omitempty"`
	IsPrivileged bool            `json:"is_privileged"`
	Roles        []RoleType      `json:"roles,omitempty"`
	Tenant       *tenants.Tenant `json:"tenant,omitempty"`
}

func (p *Principal) HasRole(role RoleType) bool {
	return p != nil && hasRole(p.Roles, role)
}
