// Package attrs is the attribute store facade: typed get/set for resource,
// user, and environment attributes with hierarchical environment resolution
// and a Redis read-through cache.
package attrs

import "time"

// Environment attribute scopes, least to most specific.
const (
	ScopeGlobal       = "global"
	ScopeOrganization = "organization"
	ScopeWorkspace    = "workspace"
)

// ResourceAttribute is a key/value pair attached to a single resource.
type ResourceAttribute struct {
	ResourceType string    `json:"resourceType"`
	ResourceID   string    `json:"resourceId"`
	Key          string    `json:"key"`
	Value        string    `json:"value"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// UserAttribute is a key/value pair attached to a user.
type UserAttribute struct {
	UserID    string    `json:"userId"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// EnvironmentAttribute is a key/value pair attached to an environment scope.
// Global attributes carry an empty ScopeID.
type EnvironmentAttribute struct {
	Scope     string    `json:"scope"`
	ScopeID   string    `json:"scopeId"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ValidScope reports whether s names an environment scope.
func ValidScope(s string) bool {
	return s == ScopeGlobal || s == ScopeOrganization || s == ScopeWorkspace
}
