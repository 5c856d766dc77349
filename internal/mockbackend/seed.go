package mockbackend

import (
	"fmt"

	"github.com/jrsteele09/go-admin-session/tenants"
	"github.com/jrsteele09/go-admin-session/users"
)

// DemoPassword is the password of every seeded account.
const DemoPassword = "Dashb0ard!"

// Demo accounts created by Seed.
const (
	DemoSuperAdmin  = "root@dash.local"
	DemoTenantAdmin = "admin@acme.io"
	DemoViewer      = "viewer@acme.io"
)

var DemoResources = []string{"users", "invoices", "notifications"}

// Seed populates the directory and resource payloads with two tenants and an
// account per privilege level.
func (s *Server) Seed() error {
	for _, t := range []*tenants.Tenant{
		{ID: "acme", Name: "Acme Corp", Domain: "acme.io"},
		{ID: "globex", Name: "Globex", Domain: "globex.com"},
	} {
		if err := s.dir.AddTenant(t); err != nil {
			return fmt.Errorf("seed tenant %s: %w", t.ID, err)
		}
		for _, resource := range DemoResources {
			s.SetResource(t.ID, resource, map[string]any{
				"tenant_id": t.ID,
				"resource":  resource,
				"items":     []string{t.Name + " " + resource + " 1", t.Name + " " + resource + " 2"},
			})
		}
	}

	accounts := []*users.User{
		{
			Email:       DemoSuperAdmin,
			DisplayName: "Root",
			SystemRoles: []users.RoleType{users.RoleSuperAdmin},
		},
		{
			Email:           DemoTenantAdmin,
			DisplayName:     "Acme Admin",
			DefaultTenantID: "acme",
			Tenants: []users.TenantMembership{
				{TenantID: "acme", Roles: []users.RoleType{users.RoleTenantAdmin}},
				{TenantID: "globex", Roles: []users.RoleType{users.RoleTenantViewer}},
			},
		},
		{
			Email:       DemoViewer,
			DisplayName: "Acme Viewer",
			Tenants: []users.TenantMembership{
				{TenantID: "acme", Roles: []users.RoleType{users.RoleTenantViewer}},
			},
		},
	}
	for _, u := range accounts {
		if err := s.dir.AddUser(u, DemoPassword); err != nil {
			return fmt.Errorf("seed user %s: %w", u.Email, err)
		}
	}
	return nil
}
