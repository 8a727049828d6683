// Package grants manages the non-role grant sources: direct resource grants,
// conditional (expression-gated) grants, and time-based grants.
package grants

import (
	"time"

	"github.com/hafbau/fastflow-sub001/internal/expr"
	"github.com/hafbau/fastflow-sub001/internal/schedule"
)

// Time-based grant types.
const (
	TypeTemporary = "TEMPORARY"
	TypeRecurring = "RECURRING"
)

// ResourcePermission is an unconditional, resource-scoped ALLOW for one user
// and action. It bypasses roles entirely.
type ResourcePermission struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	ResourceType string    `json:"resourceType"`
	ResourceID   string    `json:"resourceId"`
	Action       string    `json:"action"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ConditionalPermission grants a permission only while its expression
// evaluates true against the request context. Nil ResourceType/ResourceID
// match any resource.
type ConditionalPermission struct {
	ID           string           `json:"id"`
	UserID       string           `json:"userId"`
	PermissionID string           `json:"permissionId"`
	ResourceType *string          `json:"resourceType,omitempty"`
	ResourceID   *string          `json:"resourceId,omitempty"`
	Expression   *expr.Expression `json:"expression"`
	IsActive     bool             `json:"isActive"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// TimeBasedPermission grants a permission inside a time window (TEMPORARY)
// or a recurring schedule (RECURRING).
type TimeBasedPermission struct {
	ID           string             `json:"id"`
	UserID       string             `json:"userId"`
	PermissionID string             `json:"permissionId"`
	ResourceType *string            `json:"resourceType,omitempty"`
	ResourceID   *string            `json:"resourceId,omitempty"`
	Type         string             `json:"type"`
	StartTime    time.Time          `json:"startTime"`
	EndTime      *time.Time         `json:"endTime,omitempty"`
	Schedule     *schedule.Schedule `json:"schedule,omitempty"`
	IsActive     bool               `json:"isActive"`
	CreatedAt    time.Time          `json:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt"`
}

// ActiveAt reports whether the grant covers the instant. The IsActive flag
// is checked by the read path; this only applies the time semantics.
func (p TimeBasedPermission) ActiveAt(t time.Time) bool {
	switch p.Type {
	case TypeTemporary:
		if t.Before(p.StartTime) {
			return false
		}
		return p.EndTime == nil || !t.After(*p.EndTime)
	case TypeRecurring:
		if t.Before(p.StartTime) {
			return false
		}
		return p.Schedule.Matches(t)
	default:
		return false
	}
}

// PermissionExpression is a persisted expression reusable by id across
// conditional grants.
type PermissionExpression struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Expression *expr.Expression `json:"expression"`
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}
