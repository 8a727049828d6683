package attrs

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for attributes.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetResourceAttribute fetches one resource attribute value.
func (r *Repository) GetResourceAttribute(ctx context.Context, resourceType, resourceID, key string) (string, bool, error) {
	var value string
	err := r.pool.QueryRow(ctx,
		`SELECT attribute_value FROM resource_attributes
		 WHERE resource_type = $1 AND resource_id = $2 AND attribute_key = $3`,
		resourceType, resourceID, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// ListResourceAttributes returns every attribute of a resource.
func (r *Repository) ListResourceAttributes(ctx context.Context, resourceType, resourceID string) (map[string]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT attribute_key, attribute_value FROM resource_attributes
		 WHERE resource_type = $1 AND resource_id = $2`,
		resourceType, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanKeyValues(rows)
}

// UpsertResourceAttribute stores a resource attribute value.
func (r *Repository) UpsertResourceAttribute(ctx context.Context, resourceType, resourceID, key, value string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO resource_attributes (resource_type, resource_id, attribute_key, attribute_value, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (resource_type, resource_id, attribute_key)
		 DO UPDATE SET attribute_value = EXCLUDED.attribute_value, updated_at = now()`,
		resourceType, resourceID, key, value)
	return err
}

// DeleteResourceAttribute removes a resource attribute.
func (r *Repository) DeleteResourceAttribute(ctx context.Context, resourceType, resourceID, key string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM resource_attributes
		 WHERE resource_type = $1 AND resource_id = $2 AND attribute_key = $3`,
		resourceType, resourceID, key)
	return err
}

// GetUserAttribute fetches one user attribute value.
func (r *Repository) GetUserAttribute(ctx context.Context, userID, key string) (string, bool, error) {
	var value string
	err := r.pool.QueryRow(ctx,
		`SELECT attribute_value FROM user_attributes WHERE user_id = $1 AND attribute_key = $2`,
		userID, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// ListUserAttributes returns every attribute of a user.
func (r *Repository) ListUserAttributes(ctx context.Context, userID string) (map[string]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT attribute_key, attribute_value FROM user_attributes WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanKeyValues(rows)
}

// UpsertUserAttribute stores a user attribute value.
func (r *Repository) UpsertUserAttribute(ctx context.Context, userID, key, value string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_attributes (user_id, attribute_key, attribute_value, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (user_id, attribute_key)
		 DO UPDATE SET attribute_value = EXCLUDED.attribute_value, updated_at = now()`,
		userID, key, value)
	return err
}

// DeleteUserAttribute removes a user attribute.
func (r *Repository) DeleteUserAttribute(ctx context.Context, userID, key string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM user_attributes WHERE user_id = $1 AND attribute_key = $2`, userID, key)
	return err
}

// GetEnvironmentAttribute fetches one environment attribute at an exact scope.
func (r *Repository) GetEnvironmentAttribute(ctx context.Context, scope, scopeID, key string) (string, bool, error) {
	var value string
	err := r.pool.QueryRow(ctx,
		`SELECT attribute_value FROM environment_attributes
		 WHERE scope = $1 AND scope_id = $2 AND attribute_key = $3`,
		scope, scopeID, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// ListEnvironmentAttributes returns every attribute at an exact scope.
func (r *Repository) ListEnvironmentAttributes(ctx context.Context, scope, scopeID string) (map[string]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT attribute_key, attribute_value FROM environment_attributes
		 WHERE scope = $1 AND scope_id = $2`,
		scope, scopeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanKeyValues(rows)
}

// UpsertEnvironmentAttribute stores an environment attribute value.
func (r *Repository) UpsertEnvironmentAttribute(ctx context.Context, scope, scopeID, key, value string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO environment_attributes (scope, scope_id, attribute_key, attribute_value, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (scope, scope_id, attribute_key)
		 DO UPDATE SET attribute_value = EXCLUDED.attribute_value, updated_at = now()`,
		scope, scopeID, key, value)
	return err
}

// DeleteEnvironmentAttribute removes an environment attribute.
func (r *Repository) DeleteEnvironmentAttribute(ctx context.Context, scope, scopeID, key string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM environment_attributes
		 WHERE scope = $1 AND scope_id = $2 AND attribute_key = $3`,
		scope, scopeID, key)
	return err
}

func scanKeyValues(rows pgx.Rows) (map[string]string, error) {
	values := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		values[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return values, nil
}
