package authz

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hafbau/fastflow-sub001/internal/expr"
	"github.com/hafbau/fastflow-sub001/internal/grants"
	"github.com/hafbau/fastflow-sub001/internal/roles"
)

// RoleReader resolves a user's effective role-based permissions.
type RoleReader interface {
	UserGrants(ctx context.Context, userID string) ([]roles.Permission, error)
}

// GrantReader resolves the non-role grant sources.
type GrantReader interface {
	HasDirectGrant(ctx context.Context, userID, resourceType, resourceID, action string) (bool, error)
	DirectActions(ctx context.Context, userID, resourceType, resourceID string) ([]string, error)
	ConditionalGrantsFor(ctx context.Context, userID, permissionID, resourceType, resourceID string) ([]grants.ConditionalPermission, error)
	TimeBasedGrantsFor(ctx context.Context, userID, permissionID, resourceType, resourceID string) ([]grants.TimeBasedPermission, error)
}

// ExpressionEvaluator evaluates a conditional grant's expression, fail-closed.
type ExpressionEvaluator interface {
	Evaluate(ctx context.Context, e *expr.Expression, ec expr.EvalContext) bool
}

// CheckRequest is one permission question.
type CheckRequest struct {
	UserID         string
	ResourceType   string
	ResourceID     string
	Action         string
	OrganizationID string
	WorkspaceID    string
	Attributes     map[string]any
}

// Service sequences the grant sources into a single decision:
// cache, direct resource grant, role grant, then the supplemental
// time-based and conditional grants attached to the role-granted
// permission. It never returns an error to callers: every internal
// failure is logged, counted, and answered with deny.
type Service struct {
	cache   *DecisionCache
	roles   RoleReader
	grants  GrantReader
	eval    ExpressionEvaluator
	metrics *Metrics
	logger  *slog.Logger
	group   singleflight.Group
	now     func() time.Time
}

// NewService constructs the orchestrator. metrics may be nil.
func NewService(cache *DecisionCache, roleReader RoleReader, grantReader GrantReader, eval ExpressionEvaluator, metrics *Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cache:   cache,
		roles:   roleReader,
		grants:  grantReader,
		eval:    eval,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// HasPermission answers one permission question. Concurrent identical
// questions are collapsed into a single computation.
func (s *Service) HasPermission(ctx context.Context, req CheckRequest) bool {
	if allowed, ok := s.cache.Get(ctx, req.UserID, req.ResourceType, req.ResourceID, req.Action); ok {
		s.metrics.cacheHit()
		return allowed
	}
	key := decisionKey(req.UserID, req.ResourceType, req.ResourceID, req.Action)
	v, _, _ := s.group.Do(key, func() (any, error) {
		return s.computeAndCache(ctx, req, nil), nil
	})
	allowed, _ := v.(bool)
	return allowed
}

// BatchCheckPermissions answers several actions against one resource,
// fetching the user's role grants once across the cache misses.
func (s *Service) BatchCheckPermissions(ctx context.Context, req CheckRequest, actions []string) map[string]bool {
	results := make(map[string]bool, len(actions))
	var rolePerms []roles.Permission
	loaded := false
	for _, action := range actions {
		each := req
		each.Action = action
		if allowed, ok := s.cache.Get(ctx, each.UserID, each.ResourceType, each.ResourceID, action); ok {
			s.metrics.cacheHit()
			results[action] = allowed
			continue
		}
		if !loaded {
			perms, err := s.roles.UserGrants(ctx, each.UserID)
			if err != nil {
				s.absorb(each, "load role grants", err)
				perms = nil
			}
			rolePerms = perms
			loaded = true
		}
		results[action] = s.computeAndCache(ctx, each, rolePerms)
	}
	return results
}

// GetUserPermissionsForResource lists the actions the user may perform on
// one resource: role-granted actions that pass the supplemental grant
// checks, plus direct resource grants. Sorted, de-duplicated.
func (s *Service) GetUserPermissionsForResource(ctx context.Context, req CheckRequest) []string {
	allowed := make(map[string]struct{})

	rolePerms, err := s.roles.UserGrants(ctx, req.UserID)
	if err != nil {
		s.absorb(req, "load role grants", err)
		rolePerms = nil
	}
	for _, p := range rolePerms {
		if p.ResourceType != req.ResourceType {
			continue
		}
		ok, err := s.supplementalAllows(ctx, req, p)
		if err != nil {
			s.absorb(req, "supplemental grants", err)
			continue
		}
		if ok {
			allowed[p.Action] = struct{}{}
		}
	}

	direct, err := s.grants.DirectActions(ctx, req.UserID, req.ResourceType, req.ResourceID)
	if err != nil {
		s.absorb(req, "direct grants", err)
	}
	for _, action := range direct {
		allowed[action] = struct{}{}
	}

	actions := make([]string, 0, len(allowed))
	for action := range allowed {
		actions = append(actions, action)
	}
	sort.Strings(actions)
	return actions
}

// computeAndCache runs the decision pipeline fail-closed and writes the
// terminal decision through both cache tiers. rolePerms may be pre-fetched
// by a batch caller; nil means fetch.
func (s *Service) computeAndCache(ctx context.Context, req CheckRequest, rolePerms []roles.Permission) bool {
	allowed, err := s.decide(ctx, req, rolePerms)
	if err != nil {
		s.absorb(req, "decision", err)
		allowed = false
	}
	s.cache.Set(ctx, req.UserID, req.ResourceType, req.ResourceID, req.Action, allowed)
	s.metrics.decision(allowed)
	return allowed
}

func (s *Service) decide(ctx context.Context, req CheckRequest, rolePerms []roles.Permission) (bool, error) {
	direct, err := s.grants.HasDirectGrant(ctx, req.UserID, req.ResourceType, req.ResourceID, req.Action)
	if err != nil {
		return false, err
	}
	if direct {
		return true, nil
	}

	if rolePerms == nil {
		rolePerms, err = s.roles.UserGrants(ctx, req.UserID)
		if err != nil {
			return false, err
		}
	}
	// Conditional and time-based grants only refine a permission the role
	// set already names. Without role coverage the answer is deny.
	var granted *roles.Permission
	for i, p := range rolePerms {
		if p.ResourceType == req.ResourceType && p.Action == req.Action {
			granted = &rolePerms[i]
			break
		}
	}
	if granted == nil {
		return false, nil
	}
	return s.supplementalAllows(ctx, req, *granted)
}

// supplementalAllows applies the time-based and conditional grants attached
// to a role-granted permission. With no supplemental rows the role grant
// stands on its own; with rows present, at least one must pass.
func (s *Service) supplementalAllows(ctx context.Context, req CheckRequest, p roles.Permission) (bool, error) {
	timeBased, err := s.grants.TimeBasedGrantsFor(ctx, req.UserID, p.ID, req.ResourceType, req.ResourceID)
	if err != nil {
		return false, err
	}
	conditional, err := s.grants.ConditionalGrantsFor(ctx, req.UserID, p.ID, req.ResourceType, req.ResourceID)
	if err != nil {
		return false, err
	}
	if len(timeBased) == 0 && len(conditional) == 0 {
		return true, nil
	}
	now := s.now()
	for _, g := range timeBased {
		if g.ActiveAt(now) {
			return true, nil
		}
	}
	if len(conditional) > 0 {
		ec := expr.EvalContext{
			UserID:         req.UserID,
			ResourceType:   req.ResourceType,
			ResourceID:     req.ResourceID,
			OrganizationID: req.OrganizationID,
			WorkspaceID:    req.WorkspaceID,
			Now:            now,
			Attributes:     req.Attributes,
		}
		for _, g := range conditional {
			if s.eval.Evaluate(ctx, g.Expression, ec) {
				return true, nil
			}
		}
	}
	return false, nil
}

func (s *Service) absorb(req CheckRequest, op string, err error) {
	s.metrics.evalError()
	s.logger.Error("authorization check degraded to deny",
		slog.String("op", op),
		slog.String("user", req.UserID),
		slog.String("resource", req.ResourceType+":"+req.ResourceID),
		slog.String("action", req.Action),
		slog.Any("error", err),
	)
}
