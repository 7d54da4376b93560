package submission

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const selectColumns = `id, user_id, arch, tarball, logs, verdict, status, created_at, updated_at`

// PostgresRepository implements Repository using pgxpool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new Repository backed by the given connection pool.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &PostgresRepository{pool: pool}
}

// Create inserts a new submission in the waiting state.
func (r *PostgresRepository) Create(ctx context.Context, s *Submission) error {
	s.Status = StatusWaiting
	s.Verdict = VerdictUnset

	query := `
		INSERT INTO submissions (user_id, arch, tarball, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`

	err := r.pool.QueryRow(ctx, query,
		s.UserID,
		string(s.Arch),
		s.Tarball,
		string(s.Status),
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting submission: %w", err)
	}

	return nil
}

// GetByID retrieves a single submission by id.
func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*Submission, error) {
	query := `SELECT ` + selectColumns + ` FROM submissions WHERE id = $1`

	s, err := r.scanOne(ctx, query, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// ListPending returns up to limit waiting submissions for arch, oldest first.
func (r *PostgresRepository) ListPending(ctx context.Context, arch Arch, limit int) ([]Submission, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM submissions
		WHERE status = $1 AND arch = $2
		ORDER BY created_at ASC, id ASC
		LIMIT $3`

	return r.scanMany(ctx, query, string(StatusWaiting), string(arch), limit)
}

// Claim moves a submission from waiting to grading. Zero affected rows means the
// submission is absent or another worker won the race.
func (r *PostgresRepository) Claim(ctx context.Context, id int64) (*Submission, error) {
	query := `
		UPDATE submissions
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
		RETURNING ` + selectColumns

	s, err := r.scanOne(ctx, query, id, string(StatusGrading), string(StatusWaiting))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAlreadyClaimed
	}
	return s, err
}

// CancelClaim moves a submission from grading back to waiting.
func (r *PostgresRepository) CancelClaim(ctx context.Context, id int64) (*Submission, error) {
	query := `
		UPDATE submissions
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
		RETURNING ` + selectColumns

	s, err := r.scanOne(ctx, query, id, string(StatusWaiting), string(StatusGrading))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNothingToCancel
	}
	return s, err
}

// Complete records the verdict and log artifact and moves a grading submission
// to completed.
func (r *PostgresRepository) Complete(ctx context.Context, id int64, verdict Verdict, logName string) (*Submission, error) {
	query := `
		UPDATE submissions
		SET status = $2, verdict = $3, logs = $4, updated_at = NOW()
		WHERE id = $1 AND status = $5
		RETURNING ` + selectColumns

	s, err := r.scanOne(ctx, query, id, string(StatusCompleted), string(verdict), logName, string(StatusGrading))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotGrading
	}
	return s, err
}

// Grade sets a verdict by hand. Waiting submissions are rejected so that the
// waiting->completed edge is never taken.
func (r *PostgresRepository) Grade(ctx context.Context, id int64, verdict Verdict) (*Submission, error) {
	query := `
		UPDATE submissions
		SET status = $2, verdict = $3, updated_at = NOW()
		WHERE id = $1 AND status IN ($4, $2)
		RETURNING ` + selectColumns

	s, err := r.scanOne(ctx, query, id, string(StatusCompleted), string(verdict), string(StatusGrading))
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	// Distinguish a missing row from one that is still waiting
	var exists bool
	if err := r.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM submissions WHERE id = $1)", id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("checking submission existence: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}
	return nil, ErrNotGrading
}

// ListByUser returns every submission owned by userID, newest first.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]Submission, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM submissions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC`

	return r.scanMany(ctx, query, userID)
}

// List retrieves a paginated, filtered list of submissions.
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

	var conditions []string
	var args []any
	argIdx := 1

	if filter.UserID != nil {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", argIdx))
		args = append(args, *filter.UserID)
		argIdx++
	}
	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, string(*filter.Status))
		argIdx++
	}
	if filter.Arch != nil {
		conditions = append(conditions, fmt.Sprintf("arch = $%d", argIdx))
		args = append(args, string(*filter.Arch))
		argIdx++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM submissions %s", whereClause)
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting submissions: %w", err)
	}

	offset := (filter.Page - 1) * filter.Limit
	dataQuery := fmt.Sprintf(`
		SELECT `+selectColumns+`
		FROM submissions
		%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, whereClause, argIdx, argIdx+1)
	args = append(args, filter.Limit, offset)

	subs, err := r.scanMany(ctx, dataQuery, args...)
	if err != nil {
		return nil, err
	}

	return &ListResult{
		Submissions: subs,
		Total:       total,
		Page:        filter.Page,
		Limit:       filter.Limit,
	}, nil
}

// CountWaiting counts userID's waiting submissions for arch.
func (r *PostgresRepository) CountWaiting(ctx context.Context, userID uuid.UUID, arch Arch) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM submissions WHERE user_id = $1 AND arch = $2 AND status = $3`,
		userID, string(arch), string(StatusWaiting),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting waiting submissions: %w", err)
	}
	return count, nil
}

// ListCompleted returns userID's completed submissions for arch, newest first.
func (r *PostgresRepository) ListCompleted(ctx context.Context, userID uuid.UUID, arch Arch) ([]Submission, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM submissions
		WHERE user_id = $1 AND arch = $2 AND status = $3
		ORDER BY created_at DESC, id DESC`

	return r.scanMany(ctx, query, userID, string(arch), string(StatusCompleted))
}

// Delete removes a submission and returns the names of its artifacts.
func (r *PostgresRepository) Delete(ctx context.Context, id int64) (*Artifacts, error) {
	var a Artifacts
	err := r.pool.QueryRow(ctx,
		`DELETE FROM submissions WHERE id = $1 RETURNING id, tarball, logs`, id,
	).Scan(&a.ID, &a.Tarball, &a.Logs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("deleting submission: %w", err)
	}
	return &a, nil
}

func (r *PostgresRepository) scanOne(ctx context.Context, query string, args ...any) (*Submission, error) {
	row := r.pool.QueryRow(ctx, query, args...)
	s, err := scanSubmission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("querying submission: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) scanMany(ctx context.Context, query string, args ...any) ([]Submission, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing submissions: %w", err)
	}
	defer rows.Close()

	var subs []Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning submission row: %w", err)
		}
		subs = append(subs, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating submission rows: %w", err)
	}

	if subs == nil {
		subs = []Submission{}
	}

	return subs, nil
}

// scanSubmission decodes one row, rejecting enum values outside the known set.
func scanSubmission(row pgx.Row) (*Submission, error) {
	var (
		s       Submission
		arch    string
		status  string
		verdict *string
	)
	err := row.Scan(
		&s.ID, &s.UserID, &arch, &s.Tarball, &s.Logs,
		&verdict, &status, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if s.Arch, err = ParseArch(arch); err != nil {
		return nil, err
	}
	if s.Status, err = ParseStatus(status); err != nil {
		return nil, err
	}
	if verdict != nil {
		if s.Verdict, err = ParseVerdict(*verdict); err != nil {
			return nil, err
		}
	}

	return &s, nil
}
