package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
)

// EventPersisted is published on the monitor channel once a submission is stored.
const EventPersisted = "persisted"

// SubmissionWorker consumes persist_submissions_queue and finalizes attempts.
// The first stored digest wins; a replay of the same digest is a no-op.
type SubmissionWorker struct {
	pool  *pgxpool.Pool
	rdb   *redis.Client
	queue *batchQueue[model.SubmissionMessage]
	log   zerolog.Logger
}

func NewSubmissionWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *SubmissionWorker {
	w := &SubmissionWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "submission_worker").Logger(),
	}
	w.queue = newBatchQueue(rdb, config.WorkerKey.PersistSubmissionsQueue, w.log, w.flushSafe)
	return w
}

// Start blocks until ctx is done. Call in a goroutine.
func (w *SubmissionWorker) Start(ctx context.Context) {
	w.log.Info().Msg("SubmissionWorker started")
	w.queue.run(ctx)
	w.log.Info().Msg("SubmissionWorker stopped")
}

func (w *SubmissionWorker) flushSafe(ctx context.Context, batch []*model.SubmissionMessage) {
	if err := w.bulkUpdate(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk submission update failed, using fallback")

		var requeue []*model.SubmissionMessage
		var stored []*model.SubmissionMessage
		for _, m := range batch {
			if err := w.persistSingle(ctx, m); err != nil {
				if _, perr := uuid.Parse(m.AttemptID); perr != nil {
					w.log.Error().Str("attempt_id", m.AttemptID).Msg("Dropping submission with invalid attempt ID")
					continue
				}
				w.log.Error().Err(err).Str("attempt_id", m.AttemptID).Msg("persistSingle failed, requeueing")
				requeue = append(requeue, m)
				continue
			}
			stored = append(stored, m)
		}
		w.announce(ctx, stored)
		w.queue.requeue(ctx, requeue)
		return
	}

	w.announce(ctx, batch)
}

// submissionColumns holds one UNNEST array per attempts column.
type submissionColumns struct {
	ids          []uuid.UUID
	reasons      []string
	timeTaken    []int32
	auto         []bool
	tabSwitches  []int32
	digests      []string
	payloads     []string
	submittedAts []time.Time
}

func toColumns(batch []*model.SubmissionMessage) (*submissionColumns, error) {
	n := len(batch)
	cols := &submissionColumns{
		ids:          make([]uuid.UUID, 0, n),
		reasons:      make([]string, 0, n),
		timeTaken:    make([]int32, 0, n),
		auto:         make([]bool, 0, n),
		tabSwitches:  make([]int32, 0, n),
		digests:      make([]string, 0, n),
		payloads:     make([]string, 0, n),
		submittedAts: make([]time.Time, 0, n),
	}
	seen := make(map[uuid.UUID]struct{}, n)
	for _, m := range batch {
		id, err := uuid.Parse(m.AttemptID)
		if err != nil {
			return nil, err
		}
		if !json.Valid(m.Payload) {
			return nil, fmt.Errorf("attempt %s: payload is not valid JSON", m.AttemptID)
		}
		// UPDATE ... FROM applies only one source row per target
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		cols.ids = append(cols.ids, id)
		cols.reasons = append(cols.reasons, m.Reason)
		cols.timeTaken = append(cols.timeTaken, int32(m.TimeTaken))
		cols.auto = append(cols.auto, m.AutoSubmitted)
		cols.tabSwitches = append(cols.tabSwitches, int32(m.TabSwitches))
		cols.digests = append(cols.digests, m.Digest)
		cols.payloads = append(cols.payloads, string(m.Payload))
		cols.submittedAts = append(cols.submittedAts, time.UnixMilli(m.SubmittedAt))
	}
	return cols, nil
}

func (w *SubmissionWorker) bulkUpdate(ctx context.Context, batch []*model.SubmissionMessage) error {
	cols, err := toColumns(batch)
	if err != nil {
		return err
	}

	query := `
		UPDATE attempts AS a
		SET status = 'SUBMITTED',
		    submit_reason = t.reason,
		    time_taken = t.time_taken,
		    auto_submitted = t.auto_submitted,
		    tab_switches = t.tab_switches,
		    digest = t.digest,
		    payload = t.payload::jsonb,
		    submitted_at = t.submitted_at
		FROM (
			SELECT u.id, u.reason, u.time_taken, u.auto_submitted,
			       u.tab_switches, u.digest, u.payload, u.submitted_at
			FROM UNNEST(
				$1::uuid[],
				$2::text[],
				$3::int[],
				$4::bool[],
				$5::int[],
				$6::text[],
				$7::text[],
				$8::timestamptz[]
			) AS u (id, reason, time_taken, auto_submitted, tab_switches, digest, payload, submitted_at)
		) AS t
		WHERE a.id = t.id
		  AND (a.digest IS NULL OR a.digest = t.digest)
	`

	_, err = w.pool.Exec(ctx, query,
		cols.ids, cols.reasons, cols.timeTaken, cols.auto,
		cols.tabSwitches, cols.digests, cols.payloads, cols.submittedAts,
	)
	return err
}

func (w *SubmissionWorker) persistSingle(ctx context.Context, m *model.SubmissionMessage) error {
	id, err := uuid.Parse(m.AttemptID)
	if err != nil {
		return err
	}

	_, err = w.pool.Exec(ctx,
		`UPDATE attempts
		 SET status = 'SUBMITTED',
		     submit_reason = $2,
		     time_taken = $3,
		     auto_submitted = $4,
		     tab_switches = $5,
		     digest = $6,
		     payload = $7::jsonb,
		     submitted_at = $8
		 WHERE id = $1 AND (digest IS NULL OR digest = $6)`,
		id, m.Reason, m.TimeTaken, m.AutoSubmitted, m.TabSwitches, m.Digest, string(m.Payload), time.UnixMilli(m.SubmittedAt),
	)
	return err
}

// announce tells live monitors which attempts are now stored.
func (w *SubmissionWorker) announce(ctx context.Context, stored []*model.SubmissionMessage) {
	if len(stored) == 0 {
		return
	}

	now := time.Now().Unix()
	pipe := w.rdb.Pipeline()
	for _, m := range stored {
		data, err := json.Marshal(model.MonitorEvent{
			Type:      EventPersisted,
			AttemptID: m.AttemptID,
			StudentID: m.StudentID,
			Reason:    m.Reason,
			At:        now,
		})
		if err != nil {
			continue
		}
		pipe.Publish(ctx, config.CacheKey.TestMonitorChannel(m.TestID), data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Warn().Err(err).Msg("Failed to announce stored submissions")
	}
}
