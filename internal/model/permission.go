package model

import "time"

// Permission is a single grantable capability, optionally scoped to a resource/action pair
type Permission struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"name"` // e.g., "activity.delete"
	Description string    `gorm:"type:text" json:"description,omitempty"`
	Resource    string    `gorm:"type:varchar(50);index:idx_permission_resource_action" json:"resource,omitempty"` // e.g., "activity"
	Action      string    `gorm:"type:varchar(50);index:idx_permission_resource_action" json:"action,omitempty"`   // e.g., "delete"
	CreatedAt   time.Time `json:"created_at"`
}

// Matches reports whether the permission grants the given resource/action pair.
// Both sides are expected to be normalized already.
func (p Permission) Matches(resource, action string) bool {
	return p.Resource != "" && p.Action != "" && p.Resource == resource && p.Action == action
}

// Default permissions for the system
var DefaultPermissions = []Permission{
	// Activities (exams, inquiries, case studies)
	{Name: "activity.view", Resource: "activity", Action: "view", Description: "View activities"},
	{Name: "activity.create", Resource: "activity", Action: "create", Description: "Create activities"},
	{Name: "activity.update", Resource: "activity", Action: "update", Description: "Update activities"},
	{Name: "activity.delete", Resource: "activity", Action: "delete", Description: "Delete activities"},
	// Groups and certificates
	{Name: "group.manage", Resource: "group", Action: "manage", Description: "Manage student groups"},
	{Name: "certificate.issue", Resource: "certificate", Action: "issue", Description: "Issue certificates"},
	// Analytics
	{Name: "analytics.view", Resource: "analytics", Action: "view", Description: "View analytics"},
	// User management
	{Name: "user.view", Resource: "user", Action: "view", Description: "View users"},
	{Name: "user.create", Resource: "user", Action: "create", Description: "Create users"},
	{Name: "user.update", Resource: "user", Action: "update", Description: "Update users"},
	{Name: "user.delete", Resource: "user", Action: "delete", Description: "Delete users"},
}
