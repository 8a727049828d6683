package grants

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hafbau/fastflow-sub001/internal/expr"
	"github.com/hafbau/fastflow-sub001/internal/schedule"
)

// Sentinel errors surfaced to the administrative layer.
var (
	ErrNotFound   = errors.New("grants: not found")
	ErrDuplicate  = errors.New("grants: duplicate")
	ErrValidation = errors.New("grants: validation failed")
)

// Store is the persistence surface the service depends on.
type Store interface {
	InsertResourcePermission(ctx context.Context, p ResourcePermission) (ResourcePermission, error)
	DeleteResourcePermission(ctx context.Context, id string) (ResourcePermission, error)
	HasResourcePermission(ctx context.Context, userID, resourceType, resourceID, action string) (bool, error)
	ListResourcePermissions(ctx context.Context, userID, resourceType, resourceID string) ([]ResourcePermission, error)

	InsertConditionalPermission(ctx context.Context, p ConditionalPermission) (ConditionalPermission, error)
	SetConditionalActive(ctx context.Context, id string, active bool) (ConditionalPermission, error)
	DeleteConditionalPermission(ctx context.Context, id string) (ConditionalPermission, error)
	ListConditionalFor(ctx context.Context, userID, permissionID, resourceType, resourceID string) ([]ConditionalPermission, error)

	InsertTimeBasedPermission(ctx context.Context, p TimeBasedPermission) (TimeBasedPermission, error)
	DeleteTimeBasedPermission(ctx context.Context, id string) (TimeBasedPermission, error)
	ListTimeBasedFor(ctx context.Context, userID, permissionID, resourceType, resourceID string) ([]TimeBasedPermission, error)
	DeactivateExpiredTemporary(ctx context.Context, now time.Time) ([]string, error)

	InsertExpression(ctx context.Context, e PermissionExpression) (PermissionExpression, error)
	GetExpression(ctx context.Context, id string) (PermissionExpression, error)
	UpdateExpression(ctx context.Context, e PermissionExpression) (PermissionExpression, error)
	DeleteExpression(ctx context.Context, id string) error
}

// DecisionInvalidator drops cached decisions affected by grant writes.
type DecisionInvalidator interface {
	InvalidateUser(ctx context.Context, userID string) error
	InvalidateResource(ctx context.Context, resourceType, resourceID string) error
}

// Service manages grant writes (with validation and cache invalidation) and
// the read paths the authorization orchestrator consumes.
type Service struct {
	store       Store
	invalidator DecisionInvalidator
	logger      *slog.Logger
}

// NewService constructs a Service. invalidator may be nil in tests.
func NewService(store Store, invalidator DecisionInvalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, invalidator: invalidator, logger: logger}
}

// GrantResourcePermission records a direct resource grant.
func (s *Service) GrantResourcePermission(ctx context.Context, userID, resourceType, resourceID, action string) (ResourcePermission, error) {
	if userID == "" || resourceType == "" || resourceID == "" || strings.TrimSpace(action) == "" {
		return ResourcePermission{}, fmt.Errorf("%w: user, resource, and action required", ErrValidation)
	}
	created, err := s.store.InsertResourcePermission(ctx, ResourcePermission{
		ID:           uuid.NewString(),
		UserID:       userID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Action:       strings.TrimSpace(action),
	})
	if err != nil {
		return ResourcePermission{}, err
	}
	s.invalidateUser(ctx, userID)
	s.invalidateResource(ctx, resourceType, resourceID)
	return created, nil
}

// RevokeResourcePermission removes a direct resource grant.
func (s *Service) RevokeResourcePermission(ctx context.Context, id string) error {
	deleted, err := s.store.DeleteResourcePermission(ctx, id)
	if err != nil {
		return err
	}
	s.invalidateUser(ctx, deleted.UserID)
	s.invalidateResource(ctx, deleted.ResourceType, deleted.ResourceID)
	return nil
}

// HasDirectGrant reports whether a direct grant covers the action.
func (s *Service) HasDirectGrant(ctx context.Context, userID, resourceType, resourceID, action string) (bool, error) {
	return s.store.HasResourcePermission(ctx, userID, resourceType, resourceID, action)
}

// DirectActions returns the actions granted directly on one resource.
func (s *Service) DirectActions(ctx context.Context, userID, resourceType, resourceID string) ([]string, error) {
	perms, err := s.store.ListResourcePermissions(ctx, userID, resourceType, resourceID)
	if err != nil {
		return nil, err
	}
	actions := make([]string, 0, len(perms))
	for _, p := range perms {
		actions = append(actions, p.Action)
	}
	return actions, nil
}

// ConditionalGrantInput carries conditional grant creation parameters.
type ConditionalGrantInput struct {
	UserID       string
	PermissionID string
	ResourceType *string
	ResourceID   *string
	Expression   *expr.Expression
}

// GrantConditionalPermission validates the expression and records the grant.
// Validation here is what keeps fail-closed evaluation from being silently
// stored: a structurally broken expression never reaches the database.
func (s *Service) GrantConditionalPermission(ctx context.Context, input ConditionalGrantInput) (ConditionalPermission, error) {
	if input.UserID == "" || input.PermissionID == "" {
		return ConditionalPermission{}, fmt.Errorf("%w: user and permission required", ErrValidation)
	}
	if err := expr.Validate(input.Expression); err != nil {
		return ConditionalPermission{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	created, err := s.store.InsertConditionalPermission(ctx, ConditionalPermission{
		ID:           uuid.NewString(),
		UserID:       input.UserID,
		PermissionID: input.PermissionID,
		ResourceType: input.ResourceType,
		ResourceID:   input.ResourceID,
		Expression:   input.Expression,
		IsActive:     true,
	})
	if err != nil {
		return ConditionalPermission{}, err
	}
	s.invalidateUser(ctx, input.UserID)
	return created, nil
}

// SetConditionalActive enables or disables a conditional grant.
func (s *Service) SetConditionalActive(ctx context.Context, id string, active bool) (ConditionalPermission, error) {
	updated, err := s.store.SetConditionalActive(ctx, id, active)
	if err != nil {
		return ConditionalPermission{}, err
	}
	s.invalidateUser(ctx, updated.UserID)
	return updated, nil
}

// RevokeConditionalPermission removes a conditional grant.
func (s *Service) RevokeConditionalPermission(ctx context.Context, id string) error {
	deleted, err := s.store.DeleteConditionalPermission(ctx, id)
	if err != nil {
		return err
	}
	s.invalidateUser(ctx, deleted.UserID)
	return nil
}

// ConditionalGrantsFor returns the active conditional grants for the
// permission in the given resource context.
func (s *Service) ConditionalGrantsFor(ctx context.Context, userID, permissionID, resourceType, resourceID string) ([]ConditionalPermission, error) {
	return s.store.ListConditionalFor(ctx, userID, permissionID, resourceType, resourceID)
}

// TimeBasedGrantInput carries time-based grant creation parameters.
type TimeBasedGrantInput struct {
	UserID       string
	PermissionID string
	ResourceType *string
	ResourceID   *string
	Type         string
	StartTime    time.Time
	EndTime      *time.Time
	Schedule     *schedule.Schedule
}

// GrantTimeBasedPermission validates and records a time-based grant.
func (s *Service) GrantTimeBasedPermission(ctx context.Context, input TimeBasedGrantInput) (TimeBasedPermission, error) {
	if input.UserID == "" || input.PermissionID == "" {
		return TimeBasedPermission{}, fmt.Errorf("%w: user and permission required", ErrValidation)
	}
	if input.StartTime.IsZero() {
		return TimeBasedPermission{}, fmt.Errorf("%w: start time required", ErrValidation)
	}
	grant := TimeBasedPermission{
		ID:           uuid.NewString(),
		UserID:       input.UserID,
		PermissionID: input.PermissionID,
		ResourceType: input.ResourceType,
		ResourceID:   input.ResourceID,
		Type:         input.Type,
		StartTime:    input.StartTime,
		EndTime:      input.EndTime,
		IsActive:     true,
	}
	switch input.Type {
	case TypeTemporary:
		if input.EndTime != nil && input.EndTime.Before(input.StartTime) {
			return TimeBasedPermission{}, fmt.Errorf("%w: end time before start time", ErrValidation)
		}
	case TypeRecurring:
		if input.Schedule == nil {
			return TimeBasedPermission{}, fmt.Errorf("%w: recurring grant requires a schedule", ErrValidation)
		}
		if err := input.Schedule.Validate(); err != nil {
			return TimeBasedPermission{}, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		grant.Schedule = input.Schedule
	default:
		return TimeBasedPermission{}, fmt.Errorf("%w: unknown grant type %q", ErrValidation, input.Type)
	}
	created, err := s.store.InsertTimeBasedPermission(ctx, grant)
	if err != nil {
		return TimeBasedPermission{}, err
	}
	s.invalidateUser(ctx, input.UserID)
	return created, nil
}

// RevokeTimeBasedPermission removes a time-based grant.
func (s *Service) RevokeTimeBasedPermission(ctx context.Context, id string) error {
	deleted, err := s.store.DeleteTimeBasedPermission(ctx, id)
	if err != nil {
		return err
	}
	s.invalidateUser(ctx, deleted.UserID)
	return nil
}

// TimeBasedGrantsFor returns the active time-based grants for the permission
// in the given resource context.
func (s *Service) TimeBasedGrantsFor(ctx context.Context, userID, permissionID, resourceType, resourceID string) ([]TimeBasedPermission, error) {
	return s.store.ListTimeBasedFor(ctx, userID, permissionID, resourceType, resourceID)
}

// ExpireTemporary deactivates TEMPORARY grants past their end time and
// invalidates the affected users' cached decisions. Safe to run concurrently
// from multiple instances: it only flips rows already past end_time.
func (s *Service) ExpireTemporary(ctx context.Context, now time.Time) (int, error) {
	userIDs, err := s.store.DeactivateExpiredTemporary(ctx, now)
	if err != nil {
		return 0, err
	}
	for _, id := range userIDs {
		s.invalidateUser(ctx, id)
	}
	return len(userIDs), nil
}

// CreateExpression validates and stores a reusable expression.
func (s *Service) CreateExpression(ctx context.Context, name string, e *expr.Expression) (PermissionExpression, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return PermissionExpression{}, fmt.Errorf("%w: expression name required", ErrValidation)
	}
	if err := expr.Validate(e); err != nil {
		return PermissionExpression{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return s.store.InsertExpression(ctx, PermissionExpression{
		ID:         uuid.NewString(),
		Name:       name,
		Expression: e,
	})
}

// GetExpression fetches a stored expression.
func (s *Service) GetExpression(ctx context.Context, id string) (PermissionExpression, error) {
	return s.store.GetExpression(ctx, id)
}

// UpdateExpression validates and replaces a stored expression.
func (s *Service) UpdateExpression(ctx context.Context, id, name string, e *expr.Expression) (PermissionExpression, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return PermissionExpression{}, fmt.Errorf("%w: expression name required", ErrValidation)
	}
	if err := expr.Validate(e); err != nil {
		return PermissionExpression{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return s.store.UpdateExpression(ctx, PermissionExpression{ID: id, Name: name, Expression: e})
}

// DeleteExpression removes a stored expression.
func (s *Service) DeleteExpression(ctx context.Context, id string) error {
	return s.store.DeleteExpression(ctx, id)
}

func (s *Service) invalidateUser(ctx context.Context, userID string) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.InvalidateUser(ctx, userID); err != nil {
		s.logger.Warn("decision invalidation failed", slog.String("user", userID), slog.Any("error", err))
	}
}

func (s *Service) invalidateResource(ctx context.Context, resourceType, resourceID string) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.InvalidateResource(ctx, resourceType, resourceID); err != nil {
		s.logger.Warn("decision invalidation failed",
			slog.String("resource", resourceType+":"+resourceID), slog.Any("error", err))
	}
}
