package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const keyColumns = `k.id, k.user_id, k.secret_hash, k.name, k.revoked_at, k.last_ping_at,
	k.is_grading, k.created_at, u.email, u.is_admin`

// PostgresKeyRepository implements APIKeyRepository using pgxpool.
type PostgresKeyRepository struct {
	pool *pgxpool.Pool
}

// NewKeyRepository creates a new APIKeyRepository backed by the given connection pool.
func NewKeyRepository(pool *pgxpool.Pool) APIKeyRepository {
	return &PostgresKeyRepository{pool: pool}
}

// Create inserts a new API key record.
func (r *PostgresKeyRepository) Create(ctx context.Context, k *APIKey) error {
	query := `
		INSERT INTO api_keys (id, user_id, secret_hash, name)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`

	err := r.pool.QueryRow(ctx, query, k.ID, k.UserID, k.SecretHash, k.Name).Scan(&k.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateKeyID
		}
		return fmt.Errorf("inserting api key: %w", err)
	}

	return nil
}

// GetByID retrieves a key with its owner's admin flag.
func (r *PostgresKeyRepository) GetByID(ctx context.Context, id string) (*APIKey, error) {
	query := `
		SELECT ` + keyColumns + `
		FROM api_keys k
		JOIN users u ON u.id = k.user_id
		WHERE k.id = $1`

	k, err := scanKey(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying api key: %w", err)
	}
	return k, nil
}

// List retrieves every key, newest first, including revoked ones.
func (r *PostgresKeyRepository) List(ctx context.Context) ([]APIKey, error) {
	query := `
		SELECT ` + keyColumns + `
		FROM api_keys k
		JOIN users u ON u.id = k.user_id
		ORDER BY k.created_at DESC`

	return r.scanKeys(ctx, query)
}

// Revoke stamps revoked_at unless it is already set, so the first revocation
// time is preserved. Returns ErrNotFound if the key does not exist.
func (r *PostgresKeyRepository) Revoke(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE api_keys
		SET revoked_at = COALESCE(revoked_at, $2)
		WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping records worker liveness and whether the worker is mid-grade.
func (r *PostgresKeyRepository) Ping(ctx context.Context, id string, at time.Time, grading bool) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE api_keys SET last_ping_at = $2, is_grading = $3 WHERE id = $1`,
		id, at, grading)
	if err != nil {
		return fmt.Errorf("recording api key ping: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAvailable returns non-revoked keys that pinged at or after since.
func (r *PostgresKeyRepository) ListAvailable(ctx context.Context, since time.Time) ([]APIKey, error) {
	query := `
		SELECT ` + keyColumns + `
		FROM api_keys k
		JOIN users u ON u.id = k.user_id
		WHERE k.revoked_at IS NULL AND k.last_ping_at >= $1
		ORDER BY k.last_ping_at DESC`

	return r.scanKeys(ctx, query, since)
}

func (r *PostgresKeyRepository) scanKeys(ctx context.Context, query string, args ...any) ([]APIKey, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	defer rows.Close()

	keys := []APIKey{}
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning api key row: %w", err)
		}
		keys = append(keys, *k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating api key rows: %w", err)
	}
	return keys, nil
}

func scanKey(row pgx.Row) (*APIKey, error) {
	var k APIKey
	err := row.Scan(
		&k.ID, &k.UserID, &k.SecretHash, &k.Name, &k.RevokedAt, &k.LastPingAt,
		&k.IsGrading, &k.CreatedAt, &k.OwnerEmail, &k.OwnerIsAdmin,
	)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// PostgresMagicLinkRepository implements MagicLinkRepository using pgxpool.
type PostgresMagicLinkRepository struct {
	pool *pgxpool.Pool
}

// NewMagicLinkRepository creates a new MagicLinkRepository backed by the given connection pool.
func NewMagicLinkRepository(pool *pgxpool.Pool) MagicLinkRepository {
	return &PostgresMagicLinkRepository{pool: pool}
}

// Create inserts a new login token.
func (r *PostgresMagicLinkRepository) Create(ctx context.Context, t *MagicLinkToken) error {
	query := `
		INSERT INTO magic_link_tokens (token_hash, email, expires_at)
		VALUES ($1, $2, $3)
		RETURNING created_at`

	if err := r.pool.QueryRow(ctx, query, t.TokenHash, t.Email, t.ExpiresAt).Scan(&t.CreatedAt); err != nil {
		return fmt.Errorf("inserting magic link token: %w", err)
	}
	return nil
}

// Consume marks the token used. Expired tokens fail the WHERE clause and are
// left untouched.
func (r *PostgresMagicLinkRepository) Consume(ctx context.Context, tokenHash string, at time.Time) (string, error) {
	query := `
		UPDATE magic_link_tokens
		SET used_at = $2
		WHERE token_hash = $1 AND used_at IS NULL AND expires_at > $2
		RETURNING email`

	var email string
	if err := r.pool.QueryRow(ctx, query, tokenHash, at).Scan(&email); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrInvalidOrExpired
		}
		return "", fmt.Errorf("consuming magic link token: %w", err)
	}
	return email, nil
}
