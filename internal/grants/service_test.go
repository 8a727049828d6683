package grants

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hafbau/fastflow-sub001/internal/expr"
	"github.com/hafbau/fastflow-sub001/internal/schedule"
)

type memoryStore struct {
	resource    map[string]ResourcePermission
	conditional map[string]ConditionalPermission
	timeBased   map[string]TimeBasedPermission
	expressions map[string]PermissionExpression
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		resource:    make(map[string]ResourcePermission),
		conditional: make(map[string]ConditionalPermission),
		timeBased:   make(map[string]TimeBasedPermission),
		expressions: make(map[string]PermissionExpression),
	}
}

func (m *memoryStore) InsertResourcePermission(_ context.Context, p ResourcePermission) (ResourcePermission, error) {
	for _, existing := range m.resource {
		if existing.UserID == p.UserID && existing.ResourceType == p.ResourceType &&
			existing.ResourceID == p.ResourceID && existing.Action == p.Action {
			return ResourcePermission{}, ErrDuplicate
		}
	}
	m.resource[p.ID] = p
	return p, nil
}

func (m *memoryStore) DeleteResourcePermission(_ context.Context, id string) (ResourcePermission, error) {
	p, ok := m.resource[id]
	if !ok {
		return ResourcePermission{}, ErrNotFound
	}
	delete(m.resource, id)
	return p, nil
}

func (m *memoryStore) HasResourcePermission(_ context.Context, userID, resourceType, resourceID, action string) (bool, error) {
	for _, p := range m.resource {
		if p.UserID == userID && p.ResourceType == resourceType && p.ResourceID == resourceID && p.Action == action {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryStore) ListResourcePermissions(_ context.Context, userID, resourceType, resourceID string) ([]ResourcePermission, error) {
	var out []ResourcePermission
	for _, p := range m.resource {
		if p.UserID == userID && p.ResourceType == resourceType && p.ResourceID == resourceID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memoryStore) InsertConditionalPermission(_ context.Context, p ConditionalPermission) (ConditionalPermission, error) {
	m.conditional[p.ID] = p
	return p, nil
}

func (m *memoryStore) SetConditionalActive(_ context.Context, id string, active bool) (ConditionalPermission, error) {
	p, ok := m.conditional[id]
	if !ok {
		return ConditionalPermission{}, ErrNotFound
	}
	p.IsActive = active
	m.conditional[id] = p
	return p, nil
}

func (m *memoryStore) DeleteConditionalPermission(_ context.Context, id string) (ConditionalPermission, error) {
	p, ok := m.conditional[id]
	if !ok {
		return ConditionalPermission{}, ErrNotFound
	}
	delete(m.conditional, id)
	return p, nil
}

func (m *memoryStore) ListConditionalFor(_ context.Context, userID, permissionID, resourceType, resourceID string) ([]ConditionalPermission, error) {
	var out []ConditionalPermission
	for _, p := range m.conditional {
		if p.UserID != userID || p.PermissionID != permissionID || !p.IsActive {
			continue
		}
		if p.ResourceType != nil && *p.ResourceType != resourceType {
			continue
		}
		if p.ResourceID != nil && *p.ResourceID != resourceID {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *memoryStore) InsertTimeBasedPermission(_ context.Context, p TimeBasedPermission) (TimeBasedPermission, error) {
	m.timeBased[p.ID] = p
	return p, nil
}

func (m *memoryStore) DeleteTimeBasedPermission(_ context.Context, id string) (TimeBasedPermission, error) {
	p, ok := m.timeBased[id]
	if !ok {
		return TimeBasedPermission{}, ErrNotFound
	}
	delete(m.timeBased, id)
	return p, nil
}

func (m *memoryStore) ListTimeBasedFor(_ context.Context, userID, permissionID, resourceType, resourceID string) ([]TimeBasedPermission, error) {
	var out []TimeBasedPermission
	for _, p := range m.timeBased {
		if p.UserID != userID || p.PermissionID != permissionID || !p.IsActive {
			continue
		}
		if p.ResourceType != nil && *p.ResourceType != resourceType {
			continue
		}
		if p.ResourceID != nil && *p.ResourceID != resourceID {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *memoryStore) DeactivateExpiredTemporary(_ context.Context, now time.Time) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for id, p := range m.timeBased {
		if p.Type != TypeTemporary || !p.IsActive || p.EndTime == nil || !p.EndTime.Before(now) {
			continue
		}
		p.IsActive = false
		m.timeBased[id] = p
		if _, ok := seen[p.UserID]; !ok {
			seen[p.UserID] = struct{}{}
			out = append(out, p.UserID)
		}
	}
	return out, nil
}

func (m *memoryStore) InsertExpression(_ context.Context, e PermissionExpression) (PermissionExpression, error) {
	m.expressions[e.ID] = e
	return e, nil
}

func (m *memoryStore) GetExpression(_ context.Context, id string) (PermissionExpression, error) {
	e, ok := m.expressions[id]
	if !ok {
		return PermissionExpression{}, ErrNotFound
	}
	return e, nil
}

func (m *memoryStore) UpdateExpression(_ context.Context, e PermissionExpression) (PermissionExpression, error) {
	if _, ok := m.expressions[e.ID]; !ok {
		return PermissionExpression{}, ErrNotFound
	}
	m.expressions[e.ID] = e
	return e, nil
}

func (m *memoryStore) DeleteExpression(_ context.Context, id string) error {
	if _, ok := m.expressions[id]; !ok {
		return ErrNotFound
	}
	delete(m.expressions, id)
	return nil
}

type recordingInvalidator struct {
	users     []string
	resources []string
}

func (r *recordingInvalidator) InvalidateUser(_ context.Context, userID string) error {
	r.users = append(r.users, userID)
	return nil
}

func (r *recordingInvalidator) InvalidateResource(_ context.Context, resourceType, resourceID string) error {
	r.resources = append(r.resources, resourceType+":"+resourceID)
	return nil
}

func strptr(s string) *string { return &s }

func TestGrantAndRevokeResourcePermission(t *testing.T) {
	store := newMemoryStore()
	inv := &recordingInvalidator{}
	svc := NewService(store, inv, nil)
	ctx := context.Background()

	created, err := svc.GrantResourcePermission(ctx, "u1", "chatflow", "cf1", "read")
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.Contains(t, inv.users, "u1")
	require.Contains(t, inv.resources, "chatflow:cf1")

	ok, err := svc.HasDirectGrant(ctx, "u1", "chatflow", "cf1", "read")
	require.NoError(t, err)
	require.True(t, ok)

	// Same triple again is a duplicate.
	_, err = svc.GrantResourcePermission(ctx, "u1", "chatflow", "cf1", "read")
	require.ErrorIs(t, err, ErrDuplicate)

	require.NoError(t, svc.RevokeResourcePermission(ctx, created.ID))
	ok, err = svc.HasDirectGrant(ctx, "u1", "chatflow", "cf1", "read")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGrantResourcePermissionValidation(t *testing.T) {
	svc := NewService(newMemoryStore(), nil, nil)
	_, err := svc.GrantResourcePermission(context.Background(), "u1", "chatflow", "cf1", "  ")
	require.ErrorIs(t, err, ErrValidation)
	_, err = svc.GrantResourcePermission(context.Background(), "", "chatflow", "cf1", "read")
	require.ErrorIs(t, err, ErrValidation)
}

func TestConditionalGrantRejectsInvalidExpression(t *testing.T) {
	svc := NewService(newMemoryStore(), nil, nil)
	_, err := svc.GrantConditionalPermission(context.Background(), ConditionalGrantInput{
		UserID:       "u1",
		PermissionID: "p1",
		Expression:   &expr.Expression{Type: expr.TypeComposite, Operator: expr.OpAnd},
	})
	require.ErrorIs(t, err, ErrValidation)
}

func TestConditionalGrantScoping(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, nil, nil)
	ctx := context.Background()

	e := &expr.Expression{
		Type:          expr.TypeAttribute,
		AttributeType: expr.AttrContext,
		AttributeKey:  "department",
		Operator:      expr.OpEqual,
		Value:         "eng",
	}

	// Global-scope grant (nil resource) plus one pinned to cf1.
	_, err := svc.GrantConditionalPermission(ctx, ConditionalGrantInput{UserID: "u1", PermissionID: "p1", Expression: e})
	require.NoError(t, err)
	_, err = svc.GrantConditionalPermission(ctx, ConditionalGrantInput{
		UserID: "u1", PermissionID: "p1",
		ResourceType: strptr("chatflow"), ResourceID: strptr("cf1"),
		Expression: e,
	})
	require.NoError(t, err)

	got, err := svc.ConditionalGrantsFor(ctx, "u1", "p1", "chatflow", "cf1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	// A different resource only sees the unscoped grant.
	got, err = svc.ConditionalGrantsFor(ctx, "u1", "p1", "chatflow", "cf2")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Nil(t, got[0].ResourceID)
}

func TestTimeBasedGrantValidation(t *testing.T) {
	svc := NewService(newMemoryStore(), nil, nil)
	ctx := context.Background()
	start := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	before := start.Add(-time.Hour)

	_, err := svc.GrantTimeBasedPermission(ctx, TimeBasedGrantInput{
		UserID: "u1", PermissionID: "p1", Type: TypeTemporary, StartTime: start, EndTime: &before,
	})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.GrantTimeBasedPermission(ctx, TimeBasedGrantInput{
		UserID: "u1", PermissionID: "p1", Type: TypeRecurring, StartTime: start,
	})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.GrantTimeBasedPermission(ctx, TimeBasedGrantInput{
		UserID: "u1", PermissionID: "p1", Type: TypeRecurring, StartTime: start,
		Schedule: &schedule.Schedule{Hours: []int{24}},
	})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.GrantTimeBasedPermission(ctx, TimeBasedGrantInput{
		UserID: "u1", PermissionID: "p1", Type: "ALWAYS", StartTime: start,
	})
	require.ErrorIs(t, err, ErrValidation)
}

func TestTemporaryGrantWindow(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, nil, nil)
	ctx := context.Background()
	start := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(48 * time.Hour)

	created, err := svc.GrantTimeBasedPermission(ctx, TimeBasedGrantInput{
		UserID: "u1", PermissionID: "p1", Type: TypeTemporary, StartTime: start, EndTime: &end,
	})
	require.NoError(t, err)

	require.False(t, created.ActiveAt(start.Add(-time.Minute)))
	require.True(t, created.ActiveAt(start))
	require.True(t, created.ActiveAt(end))
	require.False(t, created.ActiveAt(end.Add(time.Second)))
}

func TestExpireTemporaryInvalidatesUsers(t *testing.T) {
	store := newMemoryStore()
	inv := &recordingInvalidator{}
	svc := NewService(store, inv, nil)
	ctx := context.Background()
	start := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	ended := start.Add(time.Hour)
	future := start.Add(100 * time.Hour)

	_, err := svc.GrantTimeBasedPermission(ctx, TimeBasedGrantInput{
		UserID: "u1", PermissionID: "p1", Type: TypeTemporary, StartTime: start, EndTime: &ended,
	})
	require.NoError(t, err)
	_, err = svc.GrantTimeBasedPermission(ctx, TimeBasedGrantInput{
		UserID: "u2", PermissionID: "p1", Type: TypeTemporary, StartTime: start, EndTime: &future,
	})
	require.NoError(t, err)

	inv.users = nil
	n, err := svc.ExpireTemporary(ctx, start.Add(2*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []string{"u1"}, inv.users)

	// Sweep is idempotent: already-inactive grants are not re-flipped.
	n, err = svc.ExpireTemporary(ctx, start.Add(3*time.Hour))
	require.NoError(t, err)
	require.Zero(t, n)

	// The expired grant no longer shows up on the read path.
	got, err := svc.TimeBasedGrantsFor(ctx, "u1", "p1", "chatflow", "cf1")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestExpressionCRUD(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, nil, nil)
	ctx := context.Background()

	e := &expr.Expression{
		Type:          expr.TypeAttribute,
		AttributeType: expr.AttrUser,
		AttributeKey:  "clearance",
		Operator:      expr.OpGreaterEq,
		Value:         3,
	}

	created, err := svc.CreateExpression(ctx, "min-clearance", e)
	require.NoError(t, err)

	_, err = svc.CreateExpression(ctx, "  ", e)
	require.ErrorIs(t, err, ErrValidation)
	_, err = svc.CreateExpression(ctx, "broken", &expr.Expression{Type: "NOPE"})
	require.ErrorIs(t, err, ErrValidation)

	got, err := svc.GetExpression(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "min-clearance", got.Name)

	updated, err := svc.UpdateExpression(ctx, created.ID, "clearance-floor", e)
	require.NoError(t, err)
	require.Equal(t, "clearance-floor", updated.Name)

	require.NoError(t, svc.DeleteExpression(ctx, created.ID))
	_, err = svc.GetExpression(ctx, created.ID)
	require.ErrorIs(t, err, ErrNotFound)
}
