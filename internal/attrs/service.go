package attrs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrInvalidScope indicates an unknown environment scope name.
var ErrInvalidScope = errors.New("attrs: invalid environment scope")

// Store is the persistence surface the facade reads from and writes to.
type Store interface {
	GetResourceAttribute(ctx context.Context, resourceType, resourceID, key string) (string, bool, error)
	ListResourceAttributes(ctx context.Context, resourceType, resourceID string) (map[string]string, error)
	UpsertResourceAttribute(ctx context.Context, resourceType, resourceID, key, value string) error
	DeleteResourceAttribute(ctx context.Context, resourceType, resourceID, key string) error

	GetUserAttribute(ctx context.Context, userID, key string) (string, bool, error)
	ListUserAttributes(ctx context.Context, userID string) (map[string]string, error)
	UpsertUserAttribute(ctx context.Context, userID, key, value string) error
	DeleteUserAttribute(ctx context.Context, userID, key string) error

	GetEnvironmentAttribute(ctx context.Context, scope, scopeID, key string) (string, bool, error)
	ListEnvironmentAttributes(ctx context.Context, scope, scopeID string) (map[string]string, error)
	UpsertEnvironmentAttribute(ctx context.Context, scope, scopeID, key, value string) error
	DeleteEnvironmentAttribute(ctx context.Context, scope, scopeID, key string) error
}

// Service is the attribute store facade. Reads are cache-checked against
// Redis first; Redis failures degrade to direct store reads.
type Service struct {
	store  Store
	cache  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewService constructs the facade. cache may be nil for cache-less operation.
func NewService(store Store, cache *redis.Client, ttl time.Duration, logger *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, cache: cache, ttl: ttl, logger: logger}
}

type cachedValue struct {
	Value string `json:"value"`
	Found bool   `json:"found"`
}

// GetResourceAttribute returns one attribute of a resource.
func (s *Service) GetResourceAttribute(ctx context.Context, resourceType, resourceID, key string) (string, bool, error) {
	cacheKey := fmt.Sprintf("attrs:resource:%s:%s:key:%s", resourceType, resourceID, key)
	return s.getCached(ctx, cacheKey, func(ctx context.Context) (string, bool, error) {
		return s.store.GetResourceAttribute(ctx, resourceType, resourceID, key)
	})
}

// GetAllResourceAttributes returns every attribute of a resource.
func (s *Service) GetAllResourceAttributes(ctx context.Context, resourceType, resourceID string) (map[string]string, error) {
	cacheKey := fmt.Sprintf("attrs:resource:%s:%s:all", resourceType, resourceID)
	return s.getAllCached(ctx, cacheKey, func(ctx context.Context) (map[string]string, error) {
		return s.store.ListResourceAttributes(ctx, resourceType, resourceID)
	})
}

// SetResourceAttribute stores an attribute and invalidates its cache entries.
func (s *Service) SetResourceAttribute(ctx context.Context, resourceType, resourceID, key, value string) error {
	if err := s.store.UpsertResourceAttribute(ctx, resourceType, resourceID, key, value); err != nil {
		return err
	}
	s.invalidate(ctx,
		fmt.Sprintf("attrs:resource:%s:%s:key:%s", resourceType, resourceID, key),
		fmt.Sprintf("attrs:resource:%s:%s:all", resourceType, resourceID))
	return nil
}

// DeleteResourceAttribute removes an attribute and invalidates its cache entries.
func (s *Service) DeleteResourceAttribute(ctx context.Context, resourceType, resourceID, key string) error {
	if err := s.store.DeleteResourceAttribute(ctx, resourceType, resourceID, key); err != nil {
		return err
	}
	s.invalidate(ctx,
		fmt.Sprintf("attrs:resource:%s:%s:key:%s", resourceType, resourceID, key),
		fmt.Sprintf("attrs:resource:%s:%s:all", resourceType, resourceID))
	return nil
}

// GetUserAttribute returns one attribute of a user.
func (s *Service) GetUserAttribute(ctx context.Context, userID, key string) (string, bool, error) {
	cacheKey := fmt.Sprintf("attrs:user:%s:key:%s", userID, key)
	return s.getCached(ctx, cacheKey, func(ctx context.Context) (string, bool, error) {
		return s.store.GetUserAttribute(ctx, userID, key)
	})
}

// GetAllUserAttributes returns every attribute of a user.
func (s *Service) GetAllUserAttributes(ctx context.Context, userID string) (map[string]string, error) {
	cacheKey := fmt.Sprintf("attrs:user:%s:all", userID)
	return s.getAllCached(ctx, cacheKey, func(ctx context.Context) (map[string]string, error) {
		return s.store.ListUserAttributes(ctx, userID)
	})
}

// SetUserAttribute stores an attribute and invalidates its cache entries.
func (s *Service) SetUserAttribute(ctx context.Context, userID, key, value string) error {
	if err := s.store.UpsertUserAttribute(ctx, userID, key, value); err != nil {
		return err
	}
	s.invalidate(ctx,
		fmt.Sprintf("attrs:user:%s:key:%s", userID, key),
		fmt.Sprintf("attrs:user:%s:all", userID))
	return nil
}

// DeleteUserAttribute removes an attribute and invalidates its cache entries.
func (s *Service) DeleteUserAttribute(ctx context.Context, userID, key string) error {
	if err := s.store.DeleteUserAttribute(ctx, userID, key); err != nil {
		return err
	}
	s.invalidate(ctx,
		fmt.Sprintf("attrs:user:%s:key:%s", userID, key),
		fmt.Sprintf("attrs:user:%s:all", userID))
	return nil
}

// GetEnvironmentAttribute resolves an environment attribute from the most
// specific scope that defines it: workspace, then organization, then global.
func (s *Service) GetEnvironmentAttribute(ctx context.Context, organizationID, workspaceID, key string) (string, bool, error) {
	if workspaceID != "" {
		value, found, err := s.getEnvExact(ctx, ScopeWorkspace, workspaceID, key)
		if err != nil {
			return "", false, err
		}
		if found {
			return value, true, nil
		}
	}
	if organizationID != "" {
		value, found, err := s.getEnvExact(ctx, ScopeOrganization, organizationID, key)
		if err != nil {
			return "", false, err
		}
		if found {
			return value, true, nil
		}
	}
	return s.getEnvExact(ctx, ScopeGlobal, "", key)
}

// GetAllEnvironmentAttributes merges all three scopes, most specific winning.
func (s *Service) GetAllEnvironmentAttributes(ctx context.Context, organizationID, workspaceID string) (map[string]string, error) {
	merged, err := s.getAllEnvExact(ctx, ScopeGlobal, "")
	if err != nil {
		return nil, err
	}
	if organizationID != "" {
		orgValues, err := s.getAllEnvExact(ctx, ScopeOrganization, organizationID)
		if err != nil {
			return nil, err
		}
		for k, v := range orgValues {
			merged[k] = v
		}
	}
	if workspaceID != "" {
		wsValues, err := s.getAllEnvExact(ctx, ScopeWorkspace, workspaceID)
		if err != nil {
			return nil, err
		}
		for k, v := range wsValues {
			merged[k] = v
		}
	}
	return merged, nil
}

// SetEnvironmentAttribute stores an attribute at an exact scope.
func (s *Service) SetEnvironmentAttribute(ctx context.Context, scope, scopeID, key, value string) error {
	if !ValidScope(scope) {
		return ErrInvalidScope
	}
	if scope == ScopeGlobal {
		scopeID = ""
	}
	if err := s.store.UpsertEnvironmentAttribute(ctx, scope, scopeID, key, value); err != nil {
		return err
	}
	s.invalidate(ctx,
		fmt.Sprintf("attrs:env:%s:%s:key:%s", scope, scopeID, key),
		fmt.Sprintf("attrs:env:%s:%s:all", scope, scopeID))
	return nil
}

// DeleteEnvironmentAttribute removes an attribute at an exact scope.
func (s *Service) DeleteEnvironmentAttribute(ctx context.Context, scope, scopeID, key string) error {
	if !ValidScope(scope) {
		return ErrInvalidScope
	}
	if scope == ScopeGlobal {
		scopeID = ""
	}
	if err := s.store.DeleteEnvironmentAttribute(ctx, scope, scopeID, key); err != nil {
		return err
	}
	s.invalidate(ctx,
		fmt.Sprintf("attrs:env:%s:%s:key:%s", scope, scopeID, key),
		fmt.Sprintf("attrs:env:%s:%s:all", scope, scopeID))
	return nil
}

// ResourceAttribute implements expr.AttributeResolver.
func (s *Service) ResourceAttribute(ctx context.Context, resourceType, resourceID, key string) (string, bool, error) {
	return s.GetResourceAttribute(ctx, resourceType, resourceID, key)
}

// UserAttribute implements expr.AttributeResolver.
func (s *Service) UserAttribute(ctx context.Context, userID, key string) (string, bool, error) {
	return s.GetUserAttribute(ctx, userID, key)
}

// EnvironmentAttribute implements expr.AttributeResolver.
func (s *Service) EnvironmentAttribute(ctx context.Context, organizationID, workspaceID, key string) (string, bool, error) {
	return s.GetEnvironmentAttribute(ctx, organizationID, workspaceID, key)
}

func (s *Service) getEnvExact(ctx context.Context, scope, scopeID, key string) (string, bool, error) {
	cacheKey := fmt.Sprintf("attrs:env:%s:%s:key:%s", scope, scopeID, key)
	return s.getCached(ctx, cacheKey, func(ctx context.Context) (string, bool, error) {
		return s.store.GetEnvironmentAttribute(ctx, scope, scopeID, key)
	})
}

func (s *Service) getAllEnvExact(ctx context.Context, scope, scopeID string) (map[string]string, error) {
	cacheKey := fmt.Sprintf("attrs:env:%s:%s:all", scope, scopeID)
	return s.getAllCached(ctx, cacheKey, func(ctx context.Context) (map[string]string, error) {
		return s.store.ListEnvironmentAttributes(ctx, scope, scopeID)
	})
}

func (s *Service) getCached(ctx context.Context, cacheKey string, load func(context.Context) (string, bool, error)) (string, bool, error) {
	if s.cache != nil {
		payload, err := s.cache.Get(ctx, cacheKey).Bytes()
		if err == nil {
			var cached cachedValue
			if err := json.Unmarshal(payload, &cached); err == nil {
				return cached.Value, cached.Found, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			s.logger.Warn("attribute cache read failed", slog.String("key", cacheKey), slog.Any("error", err))
		}
	}
	value, found, err := load(ctx)
	if err != nil {
		return "", false, err
	}
	s.storeCached(ctx, cacheKey, cachedValue{Value: value, Found: found})
	return value, found, nil
}

func (s *Service) getAllCached(ctx context.Context, cacheKey string, load func(context.Context) (map[string]string, error)) (map[string]string, error) {
	if s.cache != nil {
		payload, err := s.cache.Get(ctx, cacheKey).Bytes()
		if err == nil {
			var cached map[string]string
			if err := json.Unmarshal(payload, &cached); err == nil {
				return cached, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			s.logger.Warn("attribute cache read failed", slog.String("key", cacheKey), slog.Any("error", err))
		}
	}
	values, err := load(ctx)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = make(map[string]string)
	}
	s.storeCached(ctx, cacheKey, values)
	return values, nil
}

func (s *Service) storeCached(ctx context.Context, cacheKey string, value any) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKey, payload, s.ttl).Err(); err != nil {
		s.logger.Warn("attribute cache write failed", slog.String("key", cacheKey), slog.Any("error", err))
	}
}

func (s *Service) invalidate(ctx context.Context, keys ...string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, keys...).Err(); err != nil && !errors.Is(err, redis.Nil) {
		s.logger.Warn("attribute cache invalidation failed", slog.Any("error", err))
	}
}
