package attrs

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	resource map[string]string
	user     map[string]string
	env      map[string]string

	resourceReads int
	userReads     int
	envReads      int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		resource: make(map[string]string),
		user:     make(map[string]string),
		env:      make(map[string]string),
	}
}

func rkey(resourceType, resourceID, key string) string { return resourceType + "/" + resourceID + "/" + key }
func ukey(userID, key string) string                   { return userID + "/" + key }
func ekey(scope, scopeID, key string) string           { return scope + "/" + scopeID + "/" + key }

func (m *memoryStore) GetResourceAttribute(_ context.Context, rt, rid, key string) (string, bool, error) {
	m.resourceReads++
	v, ok := m.resource[rkey(rt, rid, key)]
	return v, ok, nil
}

func (m *memoryStore) ListResourceAttributes(_ context.Context, rt, rid string) (map[string]string, error) {
	m.resourceReads++
	out := make(map[string]string)
	prefix := rt + "/" + rid + "/"
	for k, v := range m.resource {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			out[k[len(prefix):]] = v
		}
	}
	return out, nil
}

func (m *memoryStore) UpsertResourceAttribute(_ context.Context, rt, rid, key, value string) error {
	m.resource[rkey(rt, rid, key)] = value
	return nil
}

func (m *memoryStore) DeleteResourceAttribute(_ context.Context, rt, rid, key string) error {
	delete(m.resource, rkey(rt, rid, key))
	return nil
}

func (m *memoryStore) GetUserAttribute(_ context.Context, userID, key string) (string, bool, error) {
	m.userReads++
	v, ok := m.user[ukey(userID, key)]
	return v, ok, nil
}

func (m *memoryStore) ListUserAttributes(_ context.Context, userID string) (map[string]string, error) {
	m.userReads++
	out := make(map[string]string)
	prefix := userID + "/"
	for k, v := range m.user {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			out[k[len(prefix):]] = v
		}
	}
	return out, nil
}

func (m *memoryStore) UpsertUserAttribute(_ context.Context, userID, key, value string) error {
	m.user[ukey(userID, key)] = value
	return nil
}

func (m *memoryStore) DeleteUserAttribute(_ context.Context, userID, key string) error {
	delete(m.user, ukey(userID, key))
	return nil
}

func (m *memoryStore) GetEnvironmentAttribute(_ context.Context, scope, scopeID, key string) (string, bool, error) {
	m.envReads++
	v, ok := m.env[ekey(scope, scopeID, key)]
	return v, ok, nil
}

func (m *memoryStore) ListEnvironmentAttributes(_ context.Context, scope, scopeID string) (map[string]string, error) {
	m.envReads++
	out := make(map[string]string)
	prefix := scope + "/" + scopeID + "/"
	for k, v := range m.env {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			out[k[len(prefix):]] = v
		}
	}
	return out, nil
}

func (m *memoryStore) UpsertEnvironmentAttribute(_ context.Context, scope, scopeID, key, value string) error {
	m.env[ekey(scope, scopeID, key)] = value
	return nil
}

func (m *memoryStore) DeleteEnvironmentAttribute(_ context.Context, scope, scopeID, key string) error {
	delete(m.env, ekey(scope, scopeID, key))
	return nil
}

func newTestService(t *testing.T, store Store) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewService(store, client, time.Minute, nil)
}

func TestResourceAttributeReadThroughCache(t *testing.T) {
	store := newMemoryStore()
	require.NoError(t, store.UpsertResourceAttribute(context.Background(), "chatflow", "77", "tier", "gold"))
	svc := newTestService(t, store)
	ctx := context.Background()

	value, found, err := svc.GetResourceAttribute(ctx, "chatflow", "77", "tier")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "gold", value)
	require.Equal(t, 1, store.resourceReads)

	// Second read comes from cache.
	_, _, err = svc.GetResourceAttribute(ctx, "chatflow", "77", "tier")
	require.NoError(t, err)
	require.Equal(t, 1, store.resourceReads)
}

func TestSetInvalidatesSingleAndAggregate(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	require.NoError(t, svc.SetUserAttribute(ctx, "u1", "department", "sales"))

	// Prime both cache entries.
	_, _, err := svc.GetUserAttribute(ctx, "u1", "department")
	require.NoError(t, err)
	all, err := svc.GetAllUserAttributes(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "sales", all["department"])
	reads := store.userReads

	require.NoError(t, svc.SetUserAttribute(ctx, "u1", "department", "engineering"))

	value, found, err := svc.GetUserAttribute(ctx, "u1", "department")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "engineering", value)
	all, err = svc.GetAllUserAttributes(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "engineering", all["department"])
	require.Equal(t, reads+2, store.userReads)
}

func TestEnvironmentResolutionOrder(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	require.NoError(t, svc.SetEnvironmentAttribute(ctx, ScopeGlobal, "", "max_flows", "10"))
	require.NoError(t, svc.SetEnvironmentAttribute(ctx, ScopeOrganization, "org1", "max_flows", "50"))

	// Workspace scope undefined: organization wins over global.
	value, found, err := svc.GetEnvironmentAttribute(ctx, "org1", "ws1", "max_flows")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "50", value)

	require.NoError(t, svc.SetEnvironmentAttribute(ctx, ScopeWorkspace, "ws1", "max_flows", "99"))
	value, _, err = svc.GetEnvironmentAttribute(ctx, "org1", "ws1", "max_flows")
	require.NoError(t, err)
	require.Equal(t, "99", value)

	// No org/workspace context: global only.
	value, _, err = svc.GetEnvironmentAttribute(ctx, "", "", "max_flows")
	require.NoError(t, err)
	require.Equal(t, "10", value)
}

func TestEnvironmentGetAllMergesScopes(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	require.NoError(t, svc.SetEnvironmentAttribute(ctx, ScopeGlobal, "", "region", "us"))
	require.NoError(t, svc.SetEnvironmentAttribute(ctx, ScopeGlobal, "", "tier", "free"))
	require.NoError(t, svc.SetEnvironmentAttribute(ctx, ScopeOrganization, "org1", "tier", "team"))
	require.NoError(t, svc.SetEnvironmentAttribute(ctx, ScopeWorkspace, "ws1", "tier", "enterprise"))

	all, err := svc.GetAllEnvironmentAttributes(ctx, "org1", "ws1")
	require.NoError(t, err)
	require.Equal(t, "us", all["region"])
	require.Equal(t, "enterprise", all["tier"])

	all, err = svc.GetAllEnvironmentAttributes(ctx, "org1", "")
	require.NoError(t, err)
	require.Equal(t, "team", all["tier"])
}

func TestInvalidScopeRejected(t *testing.T) {
	svc := NewService(newMemoryStore(), nil, time.Minute, nil)
	err := svc.SetEnvironmentAttribute(context.Background(), "universe", "x", "k", "v")
	require.ErrorIs(t, err, ErrInvalidScope)
}

func TestCacheDegradesWhenRedisDown(t *testing.T) {
	store := newMemoryStore()
	require.NoError(t, store.UpsertUserAttribute(context.Background(), "u1", "k", "v"))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	svc := NewService(store, client, time.Minute, nil)
	mr.Close()

	value, found, err := svc.GetUserAttribute(context.Background(), "u1", "k")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v", value)
}
