package domain

// Seeded roles.
const (
	RoleAdmin = "Admin"
	RoleUser  = "User"

	RoleAdminID int64 = 1
	RoleUserID  int64 = 2
)

// Role is a named permission tier. Privileged roles are protected from
// losing their last active holder.
type Role struct {
	ID          int64
	Name        string
	Description string
	Privileged  bool
	IsDefault   bool
	IsActive    bool
}

// SeedRoles returns the roles every store is initialised with.
func SeedRoles() []Role {
	return []Role{
		{ID: RoleAdminID, Name: RoleAdmin, Description: "Administrator with full access", Privileged: true, IsActive: true},
		{ID: RoleUserID, Name: RoleUser, Description: "Standard account holder", IsDefault: true, IsActive: true},
	}
}
