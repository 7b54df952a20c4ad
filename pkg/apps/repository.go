package apps

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/platinummonkey/tally/pkg/auth"
)

// Repository persists apps in the apps table
type Repository struct {
	db auth.Querier
}

// NewRepository creates a new app repository
func NewRepository(db auth.Querier) *Repository {
	return &Repository{db: db}
}

const appColumns = `id, user_id, name, COALESCE(description, ''), url, is_active, created_at, updated_at`

func scanApp(row interface{ Scan(...interface{}) error }) (*App, error) {
	app := &App{}
	err := row.Scan(&app.ID, &app.UserID, &app.Name, &app.Description, &app.URL,
		&app.IsActive, &app.CreatedAt, &app.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return app, nil
}

// Insert stores a new app. ID must already be set.
func (r *Repository) Insert(ctx context.Context, app *App) error {
	query := `
		INSERT INTO apps (id, user_id, name, description, url, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		app.ID, app.UserID, app.Name, app.Description, app.URL, app.IsActive,
	).Scan(&app.CreatedAt, &app.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}
	return nil
}

// FindOwned returns an app owned by userID. Apps owned by anyone else are reported as not found.
func (r *Repository) FindOwned(ctx context.Context, appID, userID string) (*App, error) {
	query := `SELECT ` + appColumns + ` FROM apps WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`

	app, err := scanApp(r.db.QueryRowContext(ctx, query, appID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAppNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get app: %w", err)
	}
	return app, nil
}

// ListActiveByUser lists a user's active apps, newest first
func (r *Repository) ListActiveByUser(ctx context.Context, userID string) ([]*App, error) {
	query := `SELECT ` + appColumns + ` FROM apps
		WHERE user_id = $1 AND is_active = TRUE AND deleted_at IS NULL
		ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list apps: %w", err)
	}
	defer rows.Close()

	apps := make([]*App, 0)
	for rows.Next() {
		app, err := scanApp(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan app: %w", err)
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate apps: %w", err)
	}
	return apps, nil
}

// Update writes the non-nil fields of req to an app owned by userID
func (r *Repository) Update(ctx context.Context, appID, userID string, req UpdateAppRequest) error {
	query := `
		UPDATE apps
		SET name = COALESCE($3, name),
		    description = COALESCE($4, description),
		    url = COALESCE($5, url),
		    updated_at = NOW()
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
	`
	res, err := r.db.ExecContext(ctx, query, appID, userID,
		nullString(req.AppName), nullString(req.Description), nullString(req.AppURL))
	if err != nil {
		return fmt.Errorf("failed to update app: %w", err)
	}
	return expectOne(res, "update app")
}

// Deactivate clears the active flag on an app owned by userID
func (r *Repository) Deactivate(ctx context.Context, appID, userID string) error {
	query := `UPDATE apps SET is_active = FALSE, updated_at = NOW()
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, appID, userID)
	if err != nil {
		return fmt.Errorf("failed to deactivate app: %w", err)
	}
	return expectOne(res, "deactivate app")
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func expectOne(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if n == 0 {
		return ErrAppNotFound
	}
	return nil
}
