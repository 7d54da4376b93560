package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fls-grading/portal/internal/submission"
)

const selectColumns = `id, email, name, is_admin, passed, preferred_arch,
	last_magic_link_request_at, created_at, updated_at`

// PostgresRepository implements Repository using pgxpool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new Repository backed by the given connection pool.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &PostgresRepository{pool: pool}
}

// Create inserts a new user record. The email is normalized before insert.
func (r *PostgresRepository) Create(ctx context.Context, u *User) error {
	u.Email = NormalizeEmail(u.Email)

	query := `
		INSERT INTO users (email, name, is_admin, passed)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`

	err := r.pool.QueryRow(ctx, query, u.Email, u.Name, u.IsAdmin, u.Passed).
		Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	return nil
}

// GetByID retrieves a single user by UUID.
func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.getOne(ctx, `SELECT `+selectColumns+` FROM users WHERE id = $1`, id)
}

// GetByEmail retrieves a single user by normalized email.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.getOne(ctx, `SELECT `+selectColumns+` FROM users WHERE email = $1`, NormalizeEmail(email))
}

// List retrieves users ordered by email, optionally filtered by a partial email match.
func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) (*ListResult, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 {
		filter.Limit = 20
	}
	if filter.Limit > 100 {
		filter.Limit = 100
	}

	pattern := "%" + NormalizeEmail(filter.Search) + "%"

	var total int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE email LIKE $1`, pattern).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("counting users: %w", err)
	}

	query := `
		SELECT ` + selectColumns + `
		FROM users
		WHERE email LIKE $1
		ORDER BY email ASC
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, pattern, filter.Limit, (filter.Page-1)*filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user rows: %w", err)
	}

	return &ListResult{Users: users, Total: total, Page: filter.Page, Limit: filter.Limit}, nil
}

// SetAdmin promotes or demotes a user.
func (r *PostgresRepository) SetAdmin(ctx context.Context, id uuid.UUID, admin bool) error {
	return r.exec(ctx, "setting admin flag",
		`UPDATE users SET is_admin = $2, updated_at = NOW() WHERE id = $1`, id, admin)
}

// SetPassed records an explicit grade, in either direction.
func (r *PostgresRepository) SetPassed(ctx context.Context, id uuid.UUID, passed bool) error {
	return r.exec(ctx, "setting grade",
		`UPDATE users SET passed = $2, updated_at = NOW() WHERE id = $1`, id, passed)
}

// MarkPassed sets the user's grade to pass. It never writes a fail.
func (r *PostgresRepository) MarkPassed(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, "marking user passed",
		`UPDATE users SET passed = TRUE, updated_at = NOW() WHERE id = $1`, id)
}

// SetPreferredArch remembers the architecture of the user's last upload.
func (r *PostgresRepository) SetPreferredArch(ctx context.Context, id uuid.UUID, arch submission.Arch) error {
	return r.exec(ctx, "setting preferred arch",
		`UPDATE users SET preferred_arch = $2, updated_at = NOW() WHERE id = $1`, id, string(arch))
}

// TouchMagicLinkRequest stamps the last login-link request time. A missing
// row is not an error: the bootstrap admin may request before it exists.
func (r *PostgresRepository) TouchMagicLinkRequest(ctx context.Context, email string, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET last_magic_link_request_at = $2 WHERE email = $1`,
		NormalizeEmail(email), at)
	if err != nil {
		return fmt.Errorf("touching magic link request: %w", err)
	}
	return nil
}

// Delete removes a user together with their submissions, API keys, sessions,
// and linked accounts in one transaction. It returns the artifact names of the
// deleted submissions so the caller can remove the files.
func (r *PostgresRepository) Delete(ctx context.Context, id uuid.UUID) ([]submission.Artifacts, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx,
		`DELETE FROM submissions WHERE user_id = $1 RETURNING id, tarball, logs`, id)
	if err != nil {
		return nil, fmt.Errorf("deleting user submissions: %w", err)
	}
	artifacts := []submission.Artifacts{}
	for rows.Next() {
		var a submission.Artifacts
		if err := rows.Scan(&a.ID, &a.Tarball, &a.Logs); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning deleted submission: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating deleted submissions: %w", err)
	}

	for _, q := range []string{
		`DELETE FROM api_keys WHERE user_id = $1`,
		`DELETE FROM sessions WHERE user_id = $1`,
		`DELETE FROM accounts WHERE user_id = $1`,
	} {
		if _, err := tx.Exec(ctx, q, id); err != nil {
			return nil, fmt.Errorf("deleting user dependents: %w", err)
		}
	}

	tag, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("deleting user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrUserNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing user delete: %w", err)
	}

	return artifacts, nil
}

// AddBatch pre-provisions student accounts in one transaction. Existing
// emails are skipped. Returns the number of users actually created.
func (r *PostgresRepository) AddBatch(ctx context.Context, emails []string) (int, error) {
	normalized := NormalizeEmails(emails)
	if len(normalized) == 0 {
		return 0, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning batch transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, email := range normalized {
		batch.Queue(`INSERT INTO users (email) VALUES ($1) ON CONFLICT (email) DO NOTHING`, email)
	}

	br := tx.SendBatch(ctx, batch)
	inserted := 0
	for range normalized {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return 0, fmt.Errorf("inserting batch user: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("closing batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing batch: %w", err)
	}

	return inserted, nil
}

// Roster returns every user's email and grade, ordered by email.
func (r *PostgresRepository) Roster(ctx context.Context) ([]RosterEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT email, passed FROM users ORDER BY email ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying roster: %w", err)
	}
	defer rows.Close()

	entries := []RosterEntry{}
	for rows.Next() {
		var e RosterEntry
		if err := rows.Scan(&e.Email, &e.Passed); err != nil {
			return nil, fmt.Errorf("scanning roster row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating roster rows: %w", err)
	}
	return entries, nil
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (*User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return u, nil
}

func (r *PostgresRepository) exec(ctx context.Context, what, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (*User, error) {
	var (
		u    User
		arch *string
	)
	err := row.Scan(
		&u.ID, &u.Email, &u.Name, &u.IsAdmin, &u.Passed, &arch,
		&u.LastMagicLinkRequestAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if arch != nil {
		a, err := submission.ParseArch(*arch)
		if err != nil {
			return nil, err
		}
		u.PreferredArch = &a
	}
	return &u, nil
}

// NormalizeEmails lowercases, trims, drops blanks, and de-duplicates.
func NormalizeEmails(emails []string) []string {
	seen := make(map[string]bool, len(emails))
	out := make([]string, 0, len(emails))
	for _, e := range emails {
		e = NormalizeEmail(e)
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}
