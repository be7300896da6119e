package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
)

const answerRetryDelay = 5 * time.Second

// AnswerWorker consumes persist_answers_queue one message at a time so
// changes to the same question land in order.
type AnswerWorker struct {
	pool  *pgxpool.Pool
	rdb   *redis.Client
	queue string
	log   zerolog.Logger
}

// NewAnswerWorker creates a new AnswerWorker.
func NewAnswerWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *AnswerWorker {
	return &AnswerWorker{
		pool:  pool,
		rdb:   rdb,
		queue: config.WorkerKey.PersistAnswersQueue,
		log:   log.With().Str("component", "answer_worker").Logger(),
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *AnswerWorker) Start(ctx context.Context) {
	w.log.Info().Msg("AnswerWorker started")

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
			w.drain(drainCtx)
			cancel()
			w.log.Info().Msg("AnswerWorker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *AnswerWorker) processNext(ctx context.Context) {
	result, err := w.rdb.BLPop(ctx, PollTimeout, w.queue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
			time.Sleep(redisBackoff)
		}
		return
	}
	if len(result) < 2 {
		return
	}

	msg, ok := decodeItem[model.AnswerMessage](result[1], w.log)
	if !ok {
		return
	}

	if err := w.persist(ctx, msg); err != nil {
		w.log.Error().Err(err).
			Str("attempt_id", msg.AttemptID).
			Str("question_id", msg.QuestionID).
			Msg("Persist error, retrying in 5s")
		w.rdb.RPush(ctx, w.queue, result[1])
		time.Sleep(answerRetryDelay)
	}
}

// persist upserts the answer, or deletes it when cleared. Older messages
// never overwrite a newer stored answer.
func (w *AnswerWorker) persist(ctx context.Context, m *model.AnswerMessage) error {
	attemptID, err := uuid.Parse(m.AttemptID)
	if err != nil {
		w.log.Error().Str("attempt_id", m.AttemptID).Msg("Dropping answer with invalid attempt ID")
		return nil
	}
	at := time.UnixMilli(m.UpdatedAt)

	if isCleared(m) {
		_, err = w.pool.Exec(ctx,
			`DELETE FROM attempt_answers
			 WHERE attempt_id = $1 AND question_id = $2 AND updated_at <= $3`,
			attemptID, m.QuestionID, at,
		)
		return err
	}

	_, err = w.pool.Exec(ctx,
		`INSERT INTO attempt_answers (attempt_id, question_id, selected_option, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (attempt_id, question_id) DO UPDATE
		 SET selected_option = EXCLUDED.selected_option, updated_at = EXCLUDED.updated_at
		 WHERE attempt_answers.updated_at <= EXCLUDED.updated_at`,
		attemptID, m.QuestionID, m.SelectedOption, at,
	)
	return err
}

func isCleared(m *model.AnswerMessage) bool {
	return m.SelectedOption < 1
}

// drain persists what is left in the queue before shutdown.
func (w *AnswerWorker) drain(ctx context.Context) {
	drained := 0
	for ctx.Err() == nil {
		raw, err := w.rdb.LPop(ctx, w.queue).Result()
		if err != nil {
			break
		}

		msg, ok := decodeItem[model.AnswerMessage](raw, w.log)
		if !ok {
			continue
		}
		if err := w.persist(ctx, msg); err != nil {
			w.log.Error().Err(err).Msg("Drain persist error")
			w.rdb.RPush(ctx, w.queue, raw)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
