package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
)

var violationColumns = []string{"attempt_id", "test_id", "student_id", "kind", "counted", "strikes", "recorded_at"}

// ViolationWorker consumes persist_violations_queue and appends rows to
// attempt_violations.
type ViolationWorker struct {
	pool  *pgxpool.Pool
	queue *batchQueue[model.ViolationMessage]
	log   zerolog.Logger
}

func NewViolationWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *ViolationWorker {
	w := &ViolationWorker{
		pool: pool,
		log:  log.With().Str("component", "violation_worker").Logger(),
	}
	w.queue = newBatchQueue(rdb, config.WorkerKey.PersistViolationsQueue, w.log, w.flushSafe)
	return w
}

// Start blocks until ctx is done. Call in a goroutine.
func (w *ViolationWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ViolationWorker started")
	w.queue.run(ctx)
	w.log.Info().Msg("ViolationWorker stopped")
}

// flushSafe attempts bulk insert, then fallback insert, then requeue.
func (w *ViolationWorker) flushSafe(ctx context.Context, batch []*model.ViolationMessage) {
	if err := w.bulkInsert(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch)
	}
}

func (w *ViolationWorker) bulkInsert(ctx context.Context, batch []*model.ViolationMessage) error {
	rows := make([][]interface{}, 0, len(batch))
	for _, m := range batch {
		row, err := violationRow(m)
		if err != nil {
			// the fallback drops the bad row individually
			return err
		}
		rows = append(rows, row)
	}

	_, err := w.pool.CopyFrom(ctx, pgx.Identifier{"attempt_violations"}, violationColumns, pgx.CopyFromRows(rows))
	return err
}

func (w *ViolationWorker) fallbackInsert(ctx context.Context, batch []*model.ViolationMessage) {
	var requeue []*model.ViolationMessage

	for _, m := range batch {
		row, err := violationRow(m)
		if err != nil {
			w.log.Error().Err(err).Str("attempt_id", m.AttemptID).Msg("Dropping violation with invalid IDs")
			continue
		}

		_, err = w.pool.Exec(ctx,
			`INSERT INTO attempt_violations (attempt_id, test_id, student_id, kind, counted, strikes, recorded_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			row...,
		)
		if err != nil {
			w.log.Error().Err(err).Str("attempt_id", m.AttemptID).Msg("Insert failed, requeueing")
			requeue = append(requeue, m)
		}
	}

	w.queue.requeue(ctx, requeue)
}

// violationRow converts a message into attempt_violations column order.
func violationRow(m *model.ViolationMessage) ([]interface{}, error) {
	attemptID, err := uuid.Parse(m.AttemptID)
	if err != nil {
		return nil, err
	}
	testID, err := uuid.Parse(m.TestID)
	if err != nil {
		return nil, err
	}
	return []interface{}{
		attemptID, testID, m.StudentID, m.Kind, m.Counted, m.Strikes, time.UnixMilli(m.RecordedAt),
	}, nil
}
