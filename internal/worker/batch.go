package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	BatchSize       = 50
	BatchTimeout    = 2 * time.Second
	PollTimeout     = 1 * time.Second // Must be >= 1s to satisfy Redis
	ShutdownTimeout = 5 * time.Second

	redisBackoff   = 3 * time.Second
	requeueBackoff = 2 * time.Second
)

// batchQueue drains a Redis list into batches of T. A batch is flushed
// when it reaches BatchSize or has waited BatchTimeout.
type batchQueue[T any] struct {
	rdb   *redis.Client
	queue string
	log   zerolog.Logger
	flush func(ctx context.Context, batch []*T)

	// sleep is swapped in tests.
	sleep func(time.Duration)
}

func newBatchQueue[T any](rdb *redis.Client, queue string, log zerolog.Logger, flush func(ctx context.Context, batch []*T)) *batchQueue[T] {
	return &batchQueue[T]{rdb: rdb, queue: queue, log: log, flush: flush, sleep: time.Sleep}
}

// run blocks until ctx is done, then flushes what is buffered.
func (q *batchQueue[T]) run(ctx context.Context) {
	buffer := make([]*T, 0, BatchSize)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 && (len(buffer) >= BatchSize || time.Since(lastFlush) >= BatchTimeout) {
			q.flush(ctx, buffer)
			buffer = make([]*T, 0, BatchSize)
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			q.shutdown(buffer)
			return
		default:
		}

		result, err := q.rdb.BLPop(ctx, PollTimeout, q.queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			q.log.Error().Err(err).Msg("Redis connection error, backing off")
			q.sleep(redisBackoff)
			continue
		}
		if len(result) < 2 {
			continue
		}

		item, ok := decodeItem[T](result[1], q.log)
		if ok {
			buffer = append(buffer, item)
		}
	}
}

func (q *batchQueue[T]) shutdown(buffer []*T) {
	if len(buffer) == 0 {
		return
	}
	q.log.Info().Int("count", len(buffer)).Msg("Worker stopping, flushing remaining buffer")

	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	q.flush(ctx, buffer)
}

// requeue pushes items back to the tail of the queue.
func (q *batchQueue[T]) requeue(ctx context.Context, items []*T) {
	if len(items) == 0 {
		return
	}

	pipe := q.rdb.Pipeline()
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			continue
		}
		pipe.RPush(ctx, q.queue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		q.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue items to Redis. Data loss occurred.")
		return
	}
	q.log.Info().Int("count", len(items)).Msg("Requeued failed items back to Redis")
	// avoid thrashing while the database is down
	q.sleep(requeueBackoff)
}

// decodeItem parses a queued message. Malformed JSON can never succeed, so
// it is logged and dropped.
func decodeItem[T any](raw string, log zerolog.Logger) (*T, bool) {
	var item T
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		log.Error().Err(err).Str("data", raw).Msg("Discarding malformed JSON")
		return nil, false
	}
	return &item, true
}
