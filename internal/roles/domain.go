// Package roles manages permissions, roles, the role hierarchy, and role
// assignment to users.
package roles

import "time"

// Role types.
const (
	RoleSystem = "SYSTEM"
	RoleCustom = "CUSTOM"
)

// Permission scopes.
const (
	ScopeResource     = "RESOURCE"
	ScopeOrganization = "ORGANIZATION"
)

// Permission represents an atomic capability identified by resource type and
// action. Name is always derived as "resourceType:action".
type Permission struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ResourceType string    `json:"resourceType"`
	Action       string    `json:"action"`
	Scope        string    `json:"scope"`
	Description  string    `json:"description,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Role groups permissions. A role may inherit from a single parent role;
// the chain must stay acyclic.
type Role struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Type           string    `json:"type"`
	OrganizationID *string   `json:"organizationId,omitempty"`
	ParentRoleID   *string   `json:"parentRoleId,omitempty"`
	TemplateID     *string   `json:"templateId,omitempty"`
	Description    string    `json:"description,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// RolePermission ties a permission to a role.
type RolePermission struct {
	RoleID       string    `json:"roleId"`
	PermissionID string    `json:"permissionId"`
	CreatedAt    time.Time `json:"createdAt"`
}

// UserRole links a user to a role, optionally scoped to a workspace. A nil
// WorkspaceID means the role applies organization-wide.
type UserRole struct {
	UserID      string    `json:"userId"`
	RoleID      string    `json:"roleId"`
	WorkspaceID *string   `json:"workspaceId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// PermissionName derives the canonical permission name.
func PermissionName(resourceType, action string) string {
	return resourceType + ":" + action
}
