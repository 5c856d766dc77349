package tenants

// Tenant is an organization the dashboard can be scoped to.
type Tenant struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Domain string `json:"domain,omitempty"`
}
