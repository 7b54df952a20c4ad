package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Querier is satisfied by *sql.DB and *sql.Tx so repositories can join a caller's transaction
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Repository persists API keys in the api_keys table
type Repository struct {
	db Querier
}

// NewRepository creates a new API key repository
func NewRepository(db Querier) *Repository {
	return &Repository{db: db}
}

const apiKeyColumns = `k.id, k.user_id, k.app_id, COALESCE(a.name, ''), k.key_hash, k.key_prefix,
		       k.is_active, k.expires_at, k.ip_restrictions, k.last_used, k.created_at, k.updated_at`

const apiKeyFrom = `FROM api_keys k LEFT JOIN apps a ON a.id = k.app_id`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAPIKey(row rowScanner) (*APIKey, error) {
	key := &APIKey{}
	var lastUsed sql.NullTime
	var restrictions pq.StringArray
	err := row.Scan(
		&key.ID, &key.UserID, &key.AppID, &key.AppName, &key.KeyHash, &key.KeyPrefix,
		&key.IsActive, &key.ExpiresAt, &restrictions, &lastUsed, &key.CreatedAt, &key.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	key.IPRestrictions = []string(restrictions)
	if key.IPRestrictions == nil {
		key.IPRestrictions = []string{}
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		key.LastUsed = &t
	}
	return key, nil
}

// Insert stores a new key. ID, hash, prefix and expiry must already be set.
func (r *Repository) Insert(ctx context.Context, key *APIKey) error {
	query := `
		INSERT INTO api_keys (id, user_id, app_id, key_hash, key_prefix, is_active, expires_at, ip_restrictions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	restrictions := key.IPRestrictions
	if restrictions == nil {
		restrictions = []string{}
	}
	err := r.db.QueryRowContext(ctx, query,
		key.ID, key.UserID, key.AppID, key.KeyHash, key.KeyPrefix, key.IsActive, key.ExpiresAt,
		pq.Array(restrictions),
	).Scan(&key.CreatedAt, &key.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}
	return nil
}

// FindActiveByHash looks up an active key by the hash of its secret
func (r *Repository) FindActiveByHash(ctx context.Context, hash string) (*APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` ` + apiKeyFrom + `
		WHERE k.key_hash = $1 AND k.is_active = TRUE AND k.deleted_at IS NULL`

	key, err := scanAPIKey(r.db.QueryRowContext(ctx, query, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAPIKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find api key: %w", err)
	}
	return key, nil
}

// FindByID returns a key by id regardless of its active flag
func (r *Repository) FindByID(ctx context.Context, id string) (*APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` ` + apiKeyFrom + `
		WHERE k.id = $1 AND k.deleted_at IS NULL`

	key, err := scanAPIKey(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAPIKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	return key, nil
}

// FindByAppID returns the key issued to an application
func (r *Repository) FindByAppID(ctx context.Context, appID string) (*APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` ` + apiKeyFrom + `
		WHERE k.app_id = $1 AND k.deleted_at IS NULL`

	key, err := scanAPIKey(r.db.QueryRowContext(ctx, query, appID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAPIKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get api key for app: %w", err)
	}
	return key, nil
}

// ListActiveByUser lists a user's active, unexpired keys, newest first
func (r *Repository) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` ` + apiKeyFrom + `
		WHERE k.user_id = $1 AND k.is_active = TRUE AND k.expires_at > $2 AND k.deleted_at IS NULL
		ORDER BY k.created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	keys := make([]*APIKey, 0)
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate api keys: %w", err)
	}
	return keys, nil
}

// IDsForUser returns the ids of every key a user owns, active or not, so that
// history recorded under a revoked key stays queryable. appID narrows the set
// to one application when non-empty.
func (r *Repository) IDsForUser(ctx context.Context, userID, appID string) ([]string, error) {
	query := `SELECT id FROM api_keys WHERE user_id = $1 AND deleted_at IS NULL`
	args := []interface{}{userID}
	if appID != "" {
		query += ` AND app_id = $2`
		args = append(args, appID)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list api key ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan api key id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate api key ids: %w", err)
	}
	return ids, nil
}

// Deactivate clears the active flag. Returns ErrAPIKeyNotFound when nothing matched.
func (r *Repository) Deactivate(ctx context.Context, id string) error {
	query := `UPDATE api_keys SET is_active = FALSE, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`
	return r.execOne(ctx, "revoke api key", query, id)
}

// DeactivateForApp clears the active flag on an application's key, if any
func (r *Repository) DeactivateForApp(ctx context.Context, appID string) error {
	query := `UPDATE api_keys SET is_active = FALSE, updated_at = NOW() WHERE app_id = $1 AND deleted_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, appID); err != nil {
		return fmt.Errorf("failed to revoke api key for app: %w", err)
	}
	return nil
}

// Rotate replaces the secret and expiry of a key and reactivates it
func (r *Repository) Rotate(ctx context.Context, id, hash, prefix string, expiresAt time.Time) error {
	query := `
		UPDATE api_keys
		SET key_hash = $2, key_prefix = $3, expires_at = $4, is_active = TRUE, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`
	return r.execOne(ctx, "regenerate api key", query, id, hash, prefix, expiresAt)
}

// TouchLastUsed records that a key was just used
func (r *Repository) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE api_keys SET last_used = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("failed to update api key last_used: %w", err)
	}
	return nil
}

// DeactivateExpired revokes every active key whose expiry is before now
func (r *Repository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `UPDATE api_keys SET is_active = FALSE, updated_at = NOW()
		WHERE is_active = TRUE AND expires_at <= $1 AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke expired api keys: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count revoked api keys: %w", err)
	}
	return n, nil
}

func (r *Repository) execOne(ctx context.Context, op, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if n == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}
