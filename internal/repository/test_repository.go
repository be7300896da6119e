package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-engine/internal/model"
)

// ErrTestNotFound is returned when no test matches the given ID.
var ErrTestNotFound = errors.New("test not found")

// TestRepository handles test definition data access.
type TestRepository struct {
	pool *pgxpool.Pool
}

// NewTestRepository creates a new TestRepository.
func NewTestRepository(pool *pgxpool.Pool) *TestRepository {
	return &TestRepository{pool: pool}
}

const testColumns = `t.id, t.test_name, t.status, t.created_at, t.updated_at,
	(SELECT COUNT(*) FROM test_sections s WHERE s.test_id = t.id),
	(SELECT COUNT(*) FROM test_questions q WHERE q.test_id = t.id)`

func scanTest(row pgx.Row) (*model.Test, error) {
	t := &model.Test{}
	err := row.Scan(&t.ID, &t.TestName, &t.Status, &t.CreatedAt, &t.UpdatedAt,
		&t.SectionCount, &t.QuestionCount)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetByID retrieves a test header with its section and question counts.
func (r *TestRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Test, error) {
	t, err := scanTest(r.pool.QueryRow(ctx,
		`SELECT `+testColumns+` FROM tests t WHERE t.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTestNotFound
	}
	return t, err
}

// ListPaginated lists tests newest first. An empty status lists all.
func (r *TestRepository) ListPaginated(ctx context.Context, status model.TestStatus, limit, offset int) ([]model.Test, int, error) {
	where := ""
	var args []interface{}
	if status != "" {
		where = ` WHERE t.status = $1`
		args = append(args, status)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tests t`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	query := `SELECT ` + testColumns + ` FROM tests t` + where +
		` ORDER BY t.created_at DESC LIMIT $` + strconv.Itoa(n+1) + ` OFFSET $` + strconv.Itoa(n+2)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	tests := make([]model.Test, 0, limit)
	for rows.Next() {
		t, err := scanTest(rows)
		if err != nil {
			return nil, 0, err
		}
		tests = append(tests, *t)
	}
	return tests, total, rows.Err()
}

// ListPublishedIDs returns the IDs of every published test.
func (r *TestRepository) ListPublishedIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM tests WHERE status = $1`, model.TestStatusPublished)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetDefinition assembles the engine definition of a test without its
// answer key.
func (r *TestRepository) GetDefinition(ctx context.Context, id uuid.UUID) (*model.EngineTest, error) {
	def := &model.EngineTest{ID: id.String()}
	err := r.pool.QueryRow(ctx, `SELECT test_name FROM tests WHERE id = $1`, id).Scan(&def.TestName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTestNotFound
	}
	if err != nil {
		return nil, err
	}

	secRows, err := r.pool.Query(ctx,
		`SELECT id, section_name, duration_minutes::float8
		 FROM test_sections WHERE test_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	for secRows.Next() {
		var s model.EngineSection
		if err := secRows.Scan(&s.ID, &s.SectionName, &s.SectionDuration); err != nil {
			secRows.Close()
			return nil, err
		}
		def.Sections = append(def.Sections, s)
	}
	secRows.Close()
	if err := secRows.Err(); err != nil {
		return nil, err
	}

	qRows, err := r.pool.Query(ctx,
		`SELECT section_position, id, question_text, COALESCE(image_url, ''), options
		 FROM test_questions WHERE test_id = $1 ORDER BY section_position, position`, id)
	if err != nil {
		return nil, err
	}
	defer qRows.Close()

	for qRows.Next() {
		var (
			pos     int
			q       model.EngineQuestion
			options []byte
		)
		if err := qRows.Scan(&pos, &q.ID, &q.QuestionText, &q.ImageURL, &options); err != nil {
			return nil, err
		}
		if pos < 0 || pos >= len(def.Sections) {
			return nil, fmt.Errorf("question %s references missing section %d", q.ID, pos)
		}
		if err := json.Unmarshal(options, &q.Options); err != nil {
			return nil, fmt.Errorf("decode options of %s: %w", q.ID, err)
		}
		def.Sections[pos].Questions = append(def.Sections[pos].Questions, q)
	}
	return def, qRows.Err()
}

// GetAnswerKey returns the correct option of every question of a test.
func (r *TestRepository) GetAnswerKey(ctx context.Context, id uuid.UUID) ([]model.QuestionKey, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, correct_option FROM test_questions
		 WHERE test_id = $1 ORDER BY section_position, position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []model.QuestionKey
	for rows.Next() {
		var k model.QuestionKey
		if err := rows.Scan(&k.QuestionID, &k.CorrectOption); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Create stores a normalized definition and its answer key in one
// transaction. Every question of def must have an entry in keys.
func (r *TestRepository) Create(ctx context.Context, id uuid.UUID, def *model.EngineTest, keys map[string]int, status model.TestStatus) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO tests (id, test_name, status) VALUES ($1, $2, $3)`,
		id, def.TestName, status,
	); err != nil {
		return err
	}

	sections := make([][]interface{}, 0, len(def.Sections))
	var questions [][]interface{}
	for si, s := range def.Sections {
		sections = append(sections, []interface{}{id, si, s.ID, s.SectionName, s.SectionDuration})
		for qi, q := range s.Questions {
			correct, ok := keys[q.ID]
			if !ok {
				return fmt.Errorf("missing answer key for question %s", q.ID)
			}
			options, err := json.Marshal(q.Options)
			if err != nil {
				return err
			}
			var image *string
			if q.ImageURL != "" {
				image = &q.ImageURL
			}
			questions = append(questions, []interface{}{
				id, si, qi, q.ID, q.QuestionText, image, string(options), correct,
			})
		}
	}

	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"test_sections"},
		[]string{"test_id", "position", "id", "section_name", "duration_minutes"},
		pgx.CopyFromRows(sections),
	); err != nil {
		return fmt.Errorf("copy sections: %w", err)
	}

	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"test_questions"},
		[]string{"test_id", "section_position", "position", "id", "question_text", "image_url", "options", "correct_option"},
		pgx.CopyFromRows(questions),
	); err != nil {
		return fmt.Errorf("copy questions: %w", err)
	}

	return tx.Commit(ctx)
}

// UpdateStatus changes the lifecycle status of a test.
func (r *TestRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.TestStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE tests SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTestNotFound
	}
	return nil
}
