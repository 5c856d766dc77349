package users

import (
	"fmt"
	"time"
	"unicode"

	"github.com/jrsteele09/go-admin-session/tenants"
	"golang.org/x/crypto/bcrypt"
)

// RoleType represents a user role either at system or tenant level
type RoleType string

const (
	// System-level roles
	RoleSuperAdmin    RoleType = "super_admin"
	RoleSystemAuditor RoleType = "system_auditor"

	// Tenant-level roles
	RoleTenantAdmin  RoleType = "tenant_admin"
	RoleTenantUser   RoleType = "tenant_user"
	RoleTenantViewer RoleType = "tenant_viewer"
)

// TenantMembership represents a user's membership and roles within a specific tenant
type TenantMembership struct {
	TenantID string     `json:"tenant_id"`
	Roles    []RoleType `json:"roles"`
	JoinedAt time.Time  `json:"joined_at"`
}

// User is a directory record. It never leaves the directory; clients see a Principal.
type User struct {
	ID           string    `json:"id,omitempty"`
	Email        string    `json:"email,omitempty"`
	PasswordHash string    `json:"-"`
	DisplayName  string    `json:"display_name,omitempty"`
	DateJoined   time.Time `json:"date_joined,omitempty"`
	LastLogin    time.Time `json:"last_login,omitempty"`

	SystemRoles []RoleType         `json:"system_roles,omitempty"`
	Tenants     []TenantMembership `json:"tenants,omitempty"`
	// DefaultTenantID is the tenant a principal lands in after login.
	DefaultTenantID string `json:"default_tenant_id,omitempty"`

	Blocked bool `json:"blocked,omitempty"`
}

// ValidatePasswordStrength checks if password meets security requirements:
// - At least 8 characters long
// - Contains uppercase and lowercase letters
// - Contains at least one number
func ValidatePasswordStrength(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters long")
	}

	var (
		hasUpper  bool
		hasLower  bool
		hasNumber bool
	)

	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsDigit(char):
			hasNumber = true
		}
	}

	if !hasUpper {
		return fmt.Errorf("password must contain at least one uppercase letter")
	}
	if !hasLower {
		return fmt.Errorf("password must contain at least one lowercase letter")
	}
	if !hasNumber {
		return fmt.Errorf("password must contain at least one number")
	}

	return nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

func (u *User) HasTenant(tenantID string) bool {
	if u.IsSuperAdmin() {
		return true
	}
	return u.GetTenantMembership(tenantID) != nil
}

// IsSuperAdmin returns true if the user has super admin privileges
func (u *User) IsSuperAdmin() bool {
	return hasRole(u.SystemRoles, RoleSuperAdmin)
}

// IsPrivileged reports whether the user may use the admin dashboard at all:
// a super admin, or an admin of at least one tenant.
func (u *User) IsPrivileged() bool {
	if u.IsSuperAdmin() {
		return true
	}
	for _, m := range u.Tenants {
		if u.HasTenantRole(m.TenantID, RoleTenantAdmin) {
			return true
		}
	}
	return false
}

func (u *User) GetTenantMembership(tenantID string) *TenantMembership {
	for i := range u.Tenants {
		if u.Tenants[i].TenantID == tenantID {
			return &u.Tenants[i]
		}
	}
	return nil
}

func (u *User) GetRolesForTenant(tenantID string) []RoleType {
	membership := u.GetTenantMembership(tenantID)
	if membership != nil {
		return membership.Roles
	}
	return nil
}

// HasTenantRole reports whether the user holds role through its membership of tenantID.
func (u *User) HasTenantRole(tenantID string, role RoleType) bool {
	return hasRole(u.GetRolesForTenant(tenantID), role)
}

// Principal projects the user as seen from tenant (nil for none).
func (u *User) Principal(tenant *tenants.Tenant) *Principal {
	roles := append([]RoleType(nil), u.SystemRoles...)
	if tenant != nil {
		roles = append(roles, u.GetRolesForTenant(tenant.ID)...)
	}
	return &Principal{
		ID:           u.ID,
		Email:        u.Email,
		DisplayName:  u.DisplayName,
		IsPrivileged: u.IsPrivileged(),
		Roles:        roles,
		Tenant:       tenant,
	}
}

func hasRole(roles []RoleType, role RoleType) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
