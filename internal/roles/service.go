package roles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// Sentinel errors surfaced to the administrative layer.
var (
	ErrNotFound        = errors.New("roles: not found")
	ErrDuplicate       = errors.New("roles: duplicate")
	ErrRoleCycle       = errors.New("roles: parent assignment would create a cycle")
	ErrPermissionInUse = errors.New("roles: permission is referenced by grants")
	ErrSystemRole      = errors.New("roles: system roles cannot be modified")
)

// maxHierarchyDepth bounds parent-chain walks against corrupt data.
const maxHierarchyDepth = 32

// Store is the persistence surface the service depends on.
type Store interface {
	CreateRole(ctx context.Context, role Role) (Role, error)
	GetRole(ctx context.Context, id string) (Role, error)
	ListRoles(ctx context.Context, organizationID string) ([]Role, error)
	UpdateRole(ctx context.Context, role Role) (Role, error)
	DeleteRole(ctx context.Context, id string) error

	CreatePermission(ctx context.Context, p Permission) (Permission, error)
	GetPermission(ctx context.Context, id string) (Permission, error)
	FindPermission(ctx context.Context, resourceType, action string) (Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	CountPermissionReferences(ctx context.Context, permissionID string) (int64, error)
	DeletePermission(ctx context.Context, id string) error

	AttachPermission(ctx context.Context, roleID, permissionID string) error
	DetachPermission(ctx context.Context, roleID, permissionID string) error
	ListRolePermissions(ctx context.Context, roleID string) ([]Permission, error)

	AssignUserRole(ctx context.Context, userID, roleID string, workspaceID *string) error
	RemoveUserRole(ctx context.Context, userID, roleID string, workspaceID *string) error
	ListUserRoles(ctx context.Context, userID string) ([]Role, error)
	ListRoleUserIDs(ctx context.Context, roleID string) ([]string, error)
}

// DecisionInvalidator drops cached decisions affected by grant writes.
// Implemented by the authz decision cache.
type DecisionInvalidator interface {
	InvalidateUser(ctx context.Context, userID string) error
}

// Service orchestrates role and permission administration. Every write that
// can change a user's effective grants invalidates that user's cached
// decisions before returning.
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

// CreateRoleInput carries role creation parameters.
type CreateRoleInput struct {
	Name           string
	Type           string
	OrganizationID *string
	ParentRoleID   *string
	TemplateID     *string
	Description    string
}

// CreateRole inserts a new role after validating its parent chain.
func (s *Service) CreateRole(ctx context.Context, input CreateRoleInput) (Role, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Role{}, fmt.Errorf("roles: role name required")
	}
	roleType := input.Type
	if roleType == "" {
		roleType = RoleCustom
	}
	if roleType != RoleSystem && roleType != RoleCustom {
		return Role{}, fmt.Errorf("roles: unknown role type %q", input.Type)
	}
	id := uuid.NewString()
	if input.ParentRoleID != nil {
		if err := s.checkCycle(ctx, id, *input.ParentRoleID); err != nil {
			return Role{}, err
		}
	}
	return s.store.CreateRole(ctx, Role{
		ID:             id,
		Name:           name,
		Type:           roleType,
		OrganizationID: input.OrganizationID,
		ParentRoleID:   input.ParentRoleID,
		TemplateID:     input.TemplateID,
		Description:    strings.TrimSpace(input.Description),
	})
}

// GetRole fetches a role by id.
func (s *Service) GetRole(ctx context.Context, id string) (Role, error) {
	return s.store.GetRole(ctx, id)
}

// ListRoles returns roles visible to an organization.
func (s *Service) ListRoles(ctx context.Context, organizationID string) ([]Role, error) {
	return s.store.ListRoles(ctx, organizationID)
}

// UpdateRole updates name, description, and parent. System roles are frozen.
func (s *Service) UpdateRole(ctx context.Context, id, name, description string, parentRoleID *string) (Role, error) {
	existing, err := s.store.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if existing.Type == RoleSystem {
		return Role{}, ErrSystemRole
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("roles: role name required")
	}
	if parentRoleID != nil {
		if err := s.checkCycle(ctx, id, *parentRoleID); err != nil {
			return Role{}, err
		}
	}
	updated, err := s.store.UpdateRole(ctx, Role{
		ID:           id,
		Name:         name,
		Description:  strings.TrimSpace(description),
		ParentRoleID: parentRoleID,
	})
	if err != nil {
		return Role{}, err
	}
	s.invalidateRoleUsers(ctx, id)
	return updated, nil
}

// DeleteRole removes a role and invalidates decisions of its holders.
func (s *Service) DeleteRole(ctx context.Context, id string) error {
	role, err := s.store.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if role.Type == RoleSystem {
		return ErrSystemRole
	}
	userIDs, err := s.store.ListRoleUserIDs(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteRole(ctx, id); err != nil {
		return err
	}
	s.invalidateUsers(ctx, userIDs)
	return nil
}

// CreatePermission registers a capability for a resource type and action.
func (s *Service) CreatePermission(ctx context.Context, resourceType, action, scope, description string) (Permission, error) {
	resourceType = strings.TrimSpace(resourceType)
	action = strings.TrimSpace(action)
	if resourceType == "" || action == "" {
		return Permission{}, fmt.Errorf("roles: resource type and action required")
	}
	if scope == "" {
		scope = ScopeResource
	}
	if scope != ScopeResource && scope != ScopeOrganization {
		return Permission{}, fmt.Errorf("roles: unknown permission scope %q", scope)
	}
	return s.store.CreatePermission(ctx, Permission{
		ID:           uuid.NewString(),
		Name:         PermissionName(resourceType, action),
		ResourceType: resourceType,
		Action:       action,
		Scope:        scope,
		Description:  strings.TrimSpace(description),
	})
}

// GetPermission fetches a permission by id.
func (s *Service) GetPermission(ctx context.Context, id string) (Permission, error) {
	return s.store.GetPermission(ctx, id)
}

// FindPermission fetches a permission by its (resourceType, action) identity.
func (s *Service) FindPermission(ctx context.Context, resourceType, action string) (Permission, error) {
	return s.store.FindPermission(ctx, resourceType, action)
}

// ListPermissions returns all permissions.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

// DeletePermission removes a permission unless grants still reference it.
func (s *Service) DeletePermission(ctx context.Context, id string) error {
	refs, err := s.store.CountPermissionReferences(ctx, id)
	if err != nil {
		return err
	}
	if refs > 0 {
		return ErrPermissionInUse
	}
	return s.store.DeletePermission(ctx, id)
}

// AttachPermission grants a permission to a role and invalidates holders.
func (s *Service) AttachPermission(ctx context.Context, roleID, permissionID string) error {
	if _, err := s.store.GetRole(ctx, roleID); err != nil {
		return err
	}
	if _, err := s.store.GetPermission(ctx, permissionID); err != nil {
		return err
	}
	if err := s.store.AttachPermission(ctx, roleID, permissionID); err != nil {
		return err
	}
	s.invalidateRoleUsers(ctx, roleID)
	return nil
}

// DetachPermission revokes a permission from a role and invalidates holders.
func (s *Service) DetachPermission(ctx context.Context, roleID, permissionID string) error {
	if err := s.store.DetachPermission(ctx, roleID, permissionID); err != nil {
		return err
	}
	s.invalidateRoleUsers(ctx, roleID)
	return nil
}

// AssignRole links a user to a role and invalidates the user's decisions.
func (s *Service) AssignRole(ctx context.Context, userID, roleID string, workspaceID *string) error {
	if _, err := s.store.GetRole(ctx, roleID); err != nil {
		return err
	}
	if err := s.store.AssignUserRole(ctx, userID, roleID, workspaceID); err != nil {
		return err
	}
	s.invalidateUsers(ctx, []string{userID})
	return nil
}

// RemoveRole unlinks a user from a role and invalidates the user's decisions.
func (s *Service) RemoveRole(ctx context.Context, userID, roleID string, workspaceID *string) error {
	if err := s.store.RemoveUserRole(ctx, userID, roleID, workspaceID); err != nil {
		return err
	}
	s.invalidateUsers(ctx, []string{userID})
	return nil
}

// EffectivePermissions resolves a role's permission set through its parent
// chain: direct grants plus every ancestor's grants, de-duplicated by
// permission id with the nearest role winning.
func (s *Service) EffectivePermissions(ctx context.Context, roleID string) ([]Permission, error) {
	seen := make(map[string]struct{})
	var result []Permission
	current := roleID
	for depth := 0; depth < maxHierarchyDepth; depth++ {
		perms, err := s.store.ListRolePermissions(ctx, current)
		if err != nil {
			return nil, err
		}
		for _, p := range perms {
			if _, ok := seen[p.ID]; ok {
				continue
			}
			seen[p.ID] = struct{}{}
			result = append(result, p)
		}
		role, err := s.store.GetRole(ctx, current)
		if err != nil {
			return nil, err
		}
		if role.ParentRoleID == nil || *role.ParentRoleID == "" {
			return result, nil
		}
		current = *role.ParentRoleID
	}
	return nil, fmt.Errorf("roles: hierarchy deeper than %d for role %s", maxHierarchyDepth, roleID)
}

// UserRoles returns the roles assigned to a user.
func (s *Service) UserRoles(ctx context.Context, userID string) ([]Role, error) {
	return s.store.ListUserRoles(ctx, userID)
}

// UserGrants returns the union of effective permissions across every role the
// user holds, de-duplicated by permission id.
func (s *Service) UserGrants(ctx context.Context, userID string) ([]Permission, error) {
	userRoles, err := s.store.ListUserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var result []Permission
	for _, role := range userRoles {
		perms, err := s.EffectivePermissions(ctx, role.ID)
		if err != nil {
			return nil, err
		}
		for _, p := range perms {
			if _, ok := seen[p.ID]; ok {
				continue
			}
			seen[p.ID] = struct{}{}
			result = append(result, p)
		}
	}
	return result, nil
}

// checkCycle walks the proposed ancestor chain and rejects any path that
// reaches roleID again.
func (s *Service) checkCycle(ctx context.Context, roleID, parentID string) error {
	current := parentID
	for depth := 0; depth < maxHierarchyDepth; depth++ {
		if current == roleID {
			return ErrRoleCycle
		}
		role, err := s.store.GetRole(ctx, current)
		if err != nil {
			return err
		}
		if role.ParentRoleID == nil || *role.ParentRoleID == "" {
			return nil
		}
		current = *role.ParentRoleID
	}
	return ErrRoleCycle
}

func (s *Service) invalidateRoleUsers(ctx context.Context, roleID string) {
	userIDs, err := s.store.ListRoleUserIDs(ctx, roleID)
	if err != nil {
		s.logger.Error("list role users for invalidation", slog.String("role", roleID), slog.Any("error", err))
		return
	}
	s.invalidateUsers(ctx, userIDs)
}

func (s *Service) invalidateUsers(ctx context.Context, userIDs []string) {
	if s.invalidator == nil {
		return
	}
	for _, id := range userIDs {
		if err := s.invalidator.InvalidateUser(ctx, id); err != nil {
			s.logger.Warn("decision invalidation failed", slog.String("user", id), slog.Any("error", err))
		}
	}
}
