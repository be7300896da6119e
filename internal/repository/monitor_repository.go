package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-engine/internal/model"
)

// MonitorRepository provides data access for the live test monitor.
type MonitorRepository struct {
	pool *pgxpool.Pool
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool) *MonitorRepository {
	return &MonitorRepository{pool: pool}
}

// GetOpenAttempts returns every open attempt of the given test.
func (r *MonitorRepository) GetOpenAttempts(ctx context.Context, testID uuid.UUID) ([]model.MonitorAttempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, student_id, EXTRACT(EPOCH FROM created_at)::bigint
		 FROM attempts WHERE test_id = $1 AND status = 'OPEN'
		 ORDER BY created_at`,
		testID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.MonitorAttempt
	for rows.Next() {
		var (
			id uuid.UUID
			m  model.MonitorAttempt
		)
		if err := rows.Scan(&id, &m.StudentID, &m.StartedAt); err != nil {
			return nil, err
		}
		m.AttemptID = id.String()
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetAnsweredCounts returns the number of answered questions per open attempt.
func (r *MonitorRepository) GetAnsweredCounts(ctx context.Context, testID uuid.UUID) (map[uuid.UUID]int64, error) {
	return r.countBy(ctx,
		`SELECT aa.attempt_id, COUNT(*)
		 FROM attempt_answers aa
		 JOIN attempts a ON a.id = aa.attempt_id
		 WHERE a.test_id = $1 AND a.status = 'OPEN'
		 GROUP BY aa.attempt_id`,
		testID)
}

// GetViolationCounts returns the number of counted violations per attempt.
func (r *MonitorRepository) GetViolationCounts(ctx context.Context, testID uuid.UUID) (map[uuid.UUID]int64, error) {
	return r.countBy(ctx,
		`SELECT attempt_id, COUNT(*)
		 FROM attempt_violations
		 WHERE test_id = $1 AND counted
		 GROUP BY attempt_id`,
		testID)
}

func (r *MonitorRepository) countBy(ctx context.Context, query string, testID uuid.UUID) (map[uuid.UUID]int64, error) {
	rows, err := r.pool.Query(ctx, query, testID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int64)
	for rows.Next() {
		var (
			id    uuid.UUID
			count int64
		)
		if err := rows.Scan(&id, &count); err != nil {
			return nil, err
		}
		counts[id] = count
	}
	return counts, rows.Err()
}
