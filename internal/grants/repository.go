package grants

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hafbau/fastflow-sub001/internal/expr"
	"github.com/hafbau/fastflow-sub001/internal/schedule"
)

// Repository provides PostgreSQL backed persistence for grants.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertResourcePermission stores a direct resource grant.
func (r *Repository) InsertResourcePermission(ctx context.Context, p ResourcePermission) (ResourcePermission, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO resource_permissions (id, user_id, resource_type, resource_id, action)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, user_id, resource_type, resource_id, action, created_at`,
		p.ID, p.UserID, p.ResourceType, p.ResourceID, p.Action)
	var created ResourcePermission
	err := row.Scan(&created.ID, &created.UserID, &created.ResourceType, &created.ResourceID, &created.Action, &created.CreatedAt)
	if err != nil {
		return ResourcePermission{}, mapPgError(err)
	}
	return created, nil
}

// DeleteResourcePermission removes a direct resource grant.
func (r *Repository) DeleteResourcePermission(ctx context.Context, id string) (ResourcePermission, error) {
	row := r.pool.QueryRow(ctx,
		`DELETE FROM resource_permissions WHERE id = $1
		 RETURNING id, user_id, resource_type, resource_id, action, created_at`, id)
	var deleted ResourcePermission
	err := row.Scan(&deleted.ID, &deleted.UserID, &deleted.ResourceType, &deleted.ResourceID, &deleted.Action, &deleted.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ResourcePermission{}, ErrNotFound
	}
	if err != nil {
		return ResourcePermission{}, err
	}
	return deleted, nil
}

// HasResourcePermission reports whether a direct grant exists.
func (r *Repository) HasResourcePermission(ctx context.Context, userID, resourceType, resourceID, action string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM resource_permissions
		   WHERE user_id = $1 AND resource_type = $2 AND resource_id = $3 AND action = $4)`,
		userID, resourceType, resourceID, action).Scan(&exists)
	return exists, err
}

// ListResourcePermissions returns every direct grant the user holds on one
// resource.
func (r *Repository) ListResourcePermissions(ctx context.Context, userID, resourceType, resourceID string) ([]ResourcePermission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, resource_type, resource_id, action, created_at
		 FROM resource_permissions
		 WHERE user_id = $1 AND resource_type = $2 AND resource_id = $3`,
		userID, resourceType, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ResourcePermission
	for rows.Next() {
		var p ResourcePermission
		if err := rows.Scan(&p.ID, &p.UserID, &p.ResourceType, &p.ResourceID, &p.Action, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// InsertConditionalPermission stores a conditional grant.
func (r *Repository) InsertConditionalPermission(ctx context.Context, p ConditionalPermission) (ConditionalPermission, error) {
	exprJSON, err := json.Marshal(p.Expression)
	if err != nil {
		return ConditionalPermission{}, fmt.Errorf("grants: marshal expression: %w", err)
	}
	row := r.pool.QueryRow(ctx,
		`INSERT INTO conditional_permissions (id, user_id, permission_id, resource_type, resource_id, expression, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, user_id, permission_id, resource_type, resource_id, expression, is_active, created_at, updated_at`,
		p.ID, p.UserID, p.PermissionID, p.ResourceType, p.ResourceID, exprJSON, p.IsActive)
	created, err := scanConditional(row)
	if err != nil {
		return ConditionalPermission{}, mapPgError(err)
	}
	return created, nil
}

// SetConditionalActive flips the is_active flag of a conditional grant.
func (r *Repository) SetConditionalActive(ctx context.Context, id string, active bool) (ConditionalPermission, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE conditional_permissions SET is_active = $2, updated_at = now() WHERE id = $1
		 RETURNING id, user_id, permission_id, resource_type, resource_id, expression, is_active, created_at, updated_at`,
		id, active)
	updated, err := scanConditional(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ConditionalPermission{}, ErrNotFound
	}
	if err != nil {
		return ConditionalPermission{}, err
	}
	return updated, nil
}

// DeleteConditionalPermission removes a conditional grant.
func (r *Repository) DeleteConditionalPermission(ctx context.Context, id string) (ConditionalPermission, error) {
	row := r.pool.QueryRow(ctx,
		`DELETE FROM conditional_permissions WHERE id = $1
		 RETURNING id, user_id, permission_id, resource_type, resource_id, expression, is_active, created_at, updated_at`, id)
	deleted, err := scanConditional(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ConditionalPermission{}, ErrNotFound
	}
	if err != nil {
		return ConditionalPermission{}, err
	}
	return deleted, nil
}

// ListConditionalFor returns active conditional grants matching the
// permission and resource context. NULL-scoped rows match any resource.
func (r *Repository) ListConditionalFor(ctx context.Context, userID, permissionID, resourceType, resourceID string) ([]ConditionalPermission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, permission_id, resource_type, resource_id, expression, is_active, created_at, updated_at
		 FROM conditional_permissions
		 WHERE user_id = $1 AND permission_id = $2 AND is_active
		   AND (resource_type IS NULL OR resource_type = $3)
		   AND (resource_id IS NULL OR resource_id = $4)`,
		userID, permissionID, resourceType, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ConditionalPermission
	for rows.Next() {
		p, err := scanConditional(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// InsertTimeBasedPermission stores a time-based grant.
func (r *Repository) InsertTimeBasedPermission(ctx context.Context, p TimeBasedPermission) (TimeBasedPermission, error) {
	var scheduleJSON []byte
	if p.Schedule != nil {
		var err error
		scheduleJSON, err = json.Marshal(p.Schedule)
		if err != nil {
			return TimeBasedPermission{}, fmt.Errorf("grants: marshal schedule: %w", err)
		}
	}
	row := r.pool.QueryRow(ctx,
		`INSERT INTO time_based_permissions (id, user_id, permission_id, resource_type, resource_id, grant_type, start_time, end_time, schedule, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id, user_id, permission_id, resource_type, resource_id, grant_type, start_time, end_time, schedule, is_active, created_at, updated_at`,
		p.ID, p.UserID, p.PermissionID, p.ResourceType, p.ResourceID, p.Type, p.StartTime, p.EndTime, scheduleJSON, p.IsActive)
	created, err := scanTimeBased(row)
	if err != nil {
		return TimeBasedPermission{}, mapPgError(err)
	}
	return created, nil
}

// DeleteTimeBasedPermission removes a time-based grant.
func (r *Repository) DeleteTimeBasedPermission(ctx context.Context, id string) (TimeBasedPermission, error) {
	row := r.pool.QueryRow(ctx,
		`DELETE FROM time_based_permissions WHERE id = $1
		 RETURNING id, user_id, permission_id, resource_type, resource_id, grant_type, start_time, end_time, schedule, is_active, created_at, updated_at`, id)
	deleted, err := scanTimeBased(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return TimeBasedPermission{}, ErrNotFound
	}
	if err != nil {
		return TimeBasedPermission{}, err
	}
	return deleted, nil
}

// ListTimeBasedFor returns active time-based grants matching the permission
// and resource context. NULL-scoped rows match any resource.
func (r *Repository) ListTimeBasedFor(ctx context.Context, userID, permissionID, resourceType, resourceID string) ([]TimeBasedPermission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, permission_id, resource_type, resource_id, grant_type, start_time, end_time, schedule, is_active, created_at, updated_at
		 FROM time_based_permissions
		 WHERE user_id = $1 AND permission_id = $2 AND is_active
		   AND (resource_type IS NULL OR resource_type = $3)
		   AND (resource_id IS NULL OR resource_id = $4)`,
		userID, permissionID, resourceType, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TimeBasedPermission
	for rows.Next() {
		p, err := scanTimeBased(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeactivateExpiredTemporary flips is_active on TEMPORARY grants whose end
// time has passed and returns the affected user ids.
func (r *Repository) DeactivateExpiredTemporary(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`UPDATE time_based_permissions
		 SET is_active = false, updated_at = now()
		 WHERE grant_type = 'TEMPORARY' AND is_active AND end_time IS NOT NULL AND end_time < $1
		 RETURNING user_id`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	seen := make(map[string]struct{})
	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		userIDs = append(userIDs, id)
	}
	return userIDs, rows.Err()
}

// InsertExpression stores a reusable permission expression.
func (r *Repository) InsertExpression(ctx context.Context, e PermissionExpression) (PermissionExpression, error) {
	exprJSON, err := json.Marshal(e.Expression)
	if err != nil {
		return PermissionExpression{}, fmt.Errorf("grants: marshal expression: %w", err)
	}
	row := r.pool.QueryRow(ctx,
		`INSERT INTO permission_expressions (id, name, expression)
		 VALUES ($1, $2, $3)
		 RETURNING id, name, expression, created_at, updated_at`,
		e.ID, e.Name, exprJSON)
	created, err := scanExpression(row)
	if err != nil {
		return PermissionExpression{}, mapPgError(err)
	}
	return created, nil
}

// GetExpression fetches a stored expression by id.
func (r *Repository) GetExpression(ctx context.Context, id string) (PermissionExpression, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, expression, created_at, updated_at FROM permission_expressions WHERE id = $1`, id)
	e, err := scanExpression(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return PermissionExpression{}, ErrNotFound
	}
	return e, err
}

// UpdateExpression replaces a stored expression.
func (r *Repository) UpdateExpression(ctx context.Context, e PermissionExpression) (PermissionExpression, error) {
	exprJSON, err := json.Marshal(e.Expression)
	if err != nil {
		return PermissionExpression{}, fmt.Errorf("grants: marshal expression: %w", err)
	}
	row := r.pool.QueryRow(ctx,
		`UPDATE permission_expressions SET name = $2, expression = $3, updated_at = now() WHERE id = $1
		 RETURNING id, name, expression, created_at, updated_at`,
		e.ID, e.Name, exprJSON)
	updated, err := scanExpression(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return PermissionExpression{}, ErrNotFound
	}
	return updated, err
}

// DeleteExpression removes a stored expression.
func (r *Repository) DeleteExpression(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM permission_expressions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanConditional(row pgx.Row) (ConditionalPermission, error) {
	var p ConditionalPermission
	var exprJSON []byte
	if err := row.Scan(&p.ID, &p.UserID, &p.PermissionID, &p.ResourceType, &p.ResourceID,
		&exprJSON, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return ConditionalPermission{}, err
	}
	if len(exprJSON) > 0 {
		var e expr.Expression
		if err := json.Unmarshal(exprJSON, &e); err != nil {
			return ConditionalPermission{}, fmt.Errorf("grants: unmarshal expression: %w", err)
		}
		p.Expression = &e
	}
	return p, nil
}

func scanTimeBased(row pgx.Row) (TimeBasedPermission, error) {
	var p TimeBasedPermission
	var scheduleJSON []byte
	if err := row.Scan(&p.ID, &p.UserID, &p.PermissionID, &p.ResourceType, &p.ResourceID,
		&p.Type, &p.StartTime, &p.EndTime, &scheduleJSON, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return TimeBasedPermission{}, err
	}
	if len(scheduleJSON) > 0 {
		var s schedule.Schedule
		if err := json.Unmarshal(scheduleJSON, &s); err != nil {
			return TimeBasedPermission{}, fmt.Errorf("grants: unmarshal schedule: %w", err)
		}
		p.Schedule = &s
	}
	return p, nil
}

func scanExpression(row pgx.Row) (PermissionExpression, error) {
	var e PermissionExpression
	var exprJSON []byte
	if err := row.Scan(&e.ID, &e.Name, &exprJSON, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return PermissionExpression{}, err
	}
	if len(exprJSON) > 0 {
		var parsed expr.Expression
		if err := json.Unmarshal(exprJSON, &parsed); err != nil {
			return PermissionExpression{}, fmt.Errorf("grants: unmarshal expression: %w", err)
		}
		e.Expression = &parsed
	}
	return e, nil
}

// mapPgError converts unique violations into ErrDuplicate.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}
