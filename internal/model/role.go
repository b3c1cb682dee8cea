package model

import "time"

// Role is a named bundle of permissions. Lower priority means more privilege.
type Role struct {
	ID          uint         `gorm:"primaryKey" json:"id"`
	Name        string       `gorm:"type:varchar(100);uniqueIndex;not null" json:"name"`
	Description string       `gorm:"type:text" json:"description,omitempty"`
	Priority    int          `gorm:"not null" json:"priority"` // no default tag: GORM would overwrite a zero priority
	CreatedAt   time.Time    `json:"created_at"`
	Permissions []Permission `gorm:"-" json:"permissions,omitempty"`
}

// RolePermission records one permission assignment. The serial ID is the
// canonical ordering of a role's permissions.
type RolePermission struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	RoleID       uint      `gorm:"not null;uniqueIndex:idx_role_permission" json:"role_id"`
	PermissionID uint      `gorm:"not null;uniqueIndex:idx_role_permission;index" json:"permission_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// Role names as constants
const (
	RoleSuperAdmin = "Super Admin"
	RoleAdmin      = "Admin"
	RoleTeacher    = "Teacher"
	RoleStudent    = "Student"
)

// DefaultRolePriority is applied when a role is created without a priority.
const DefaultRolePriority = 3

// DefaultRoles defines the default roles in the system
var DefaultRoles = []Role{
	{Name: RoleSuperAdmin, Priority: 0, Description: "Full system access"},
	{Name: RoleAdmin, Priority: 1, Description: "Manages roles, groups and users"},
	{Name: RoleTeacher, Priority: 2, Description: "Authors activities and reviews student progress"},
	{Name: RoleStudent, Priority: 3, Description: "Takes activities"},
}

// DefaultRolePermissions lists the permission names seeded for each default role.
// A nil entry means every default permission.
var DefaultRolePermissions = map[string][]string{
	RoleSuperAdmin: nil,
	RoleAdmin:      nil,
	RoleTeacher: {
		"activity.view", "activity.create", "activity.update", "activity.delete",
		"group.manage", "certificate.issue", "analytics.view", "user.view",
	},
	RoleStudent: {"activity.view"},
}
