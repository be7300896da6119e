package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-engine/internal/model"
)

// ErrAttemptNotFound is returned when no attempt matches the given ID.
var ErrAttemptNotFound = errors.New("attempt not found")

// AttemptRepository handles attempt data access.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

const attemptColumns = `id, test_id, student_id, status, created_at, submitted_at,
	submit_reason, time_taken, auto_submitted, tab_switches, digest, payload`

func scanAttempt(row pgx.Row) (*model.Attempt, error) {
	a := &model.Attempt{}
	var payload []byte
	err := row.Scan(&a.ID, &a.TestID, &a.StudentID, &a.Status, &a.CreatedAt, &a.SubmittedAt,
		&a.SubmitReason, &a.TimeTaken, &a.AutoSubmitted, &a.TabSwitches, &a.Digest, &payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Payload = payload
	return a, nil
}

// CreateOrGetOpen inserts a new open attempt for the student, or returns the
// one already open on the same test. created reports which happened.
func (r *AttemptRepository) CreateOrGetOpen(ctx context.Context, testID uuid.UUID, studentID int) (a *model.Attempt, created bool, err error) {
	id := uuid.New()
	a, err = scanAttempt(r.pool.QueryRow(ctx,
		`INSERT INTO attempts (id, test_id, student_id, status)
		 VALUES ($1, $2, $3, 'OPEN')
		 ON CONFLICT (test_id, student_id) WHERE status = 'OPEN' DO NOTHING
		 RETURNING `+attemptColumns,
		id, testID, studentID,
	))
	if err == nil {
		return a, true, nil
	}
	if !errors.Is(err, ErrAttemptNotFound) {
		return nil, false, err
	}

	a, err = r.GetOpen(ctx, testID, studentID)
	return a, false, err
}

// GetByID retrieves an attempt by its UUID.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE id = $1`, id))
}

// GetOpen retrieves the open attempt of a student on a test.
func (r *AttemptRepository) GetOpen(ctx context.Context, testID uuid.UUID, studentID int) (*model.Attempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts
		 WHERE test_id = $1 AND student_id = $2 AND status = 'OPEN'`,
		testID, studentID))
}

// GetProgress returns the answers and counted strikes persisted for an attempt.
func (r *AttemptRepository) GetProgress(ctx context.Context, attemptID uuid.UUID) (*model.AttemptProgress, error) {
	p := &model.AttemptProgress{Answers: make(map[string]int)}
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempt_violations WHERE attempt_id = $1 AND counted`,
		attemptID,
	).Scan(&p.Strikes); err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT question_id, selected_option FROM attempt_answers WHERE attempt_id = $1`,
		attemptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			questionID string
			option     int
		)
		if err := rows.Scan(&questionID, &option); err != nil {
			return nil, err
		}
		p.Answers[questionID] = option
	}
	return p, rows.Err()
}

// ListResultsByTest lists attempts of a test with their violation counts.
func (r *AttemptRepository) ListResultsByTest(ctx context.Context, testID uuid.UUID, limit, offset int) ([]model.AttemptResult, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempts WHERE test_id = $1`, testID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT a.id, a.student_id, a.status, a.submit_reason, a.time_taken,
		        a.auto_submitted, a.tab_switches, COALESCE(v.cnt, 0),
		        a.created_at, a.submitted_at
		 FROM attempts a
		 LEFT JOIN (
		     SELECT attempt_id, COUNT(*) AS cnt
		     FROM attempt_violations
		     WHERE test_id = $1 AND counted
		     GROUP BY attempt_id
		 ) v ON v.attempt_id = a.id
		 WHERE a.test_id = $1
		 ORDER BY a.created_at DESC
		 LIMIT $2 OFFSET $3`,
		testID, limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	results := make([]model.AttemptResult, 0, limit)
	for rows.Next() {
		var res model.AttemptResult
		if err := rows.Scan(&res.AttemptID, &res.StudentID, &res.Status, &res.SubmitReason,
			&res.TimeTaken, &res.AutoSubmitted, &res.TabSwitches, &res.Violations,
			&res.CreatedAt, &res.SubmittedAt); err != nil {
			return nil, 0, err
		}
		results = append(results, res)
	}
	return results, total, rows.Err()
}
