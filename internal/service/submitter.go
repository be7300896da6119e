package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/engine"
	"github.com/stemsi/exstem-engine/internal/model"
)

// QueueSubmitter delivers finalized attempts to persist_submissions_queue.
// A failed push is the transport failure the engine reports to the candidate.
type QueueSubmitter struct {
	rdb *redis.Client
}

// NewQueueSubmitter creates a new QueueSubmitter.
func NewQueueSubmitter(rdb *redis.Client) *QueueSubmitter {
	return &QueueSubmitter{rdb: rdb}
}

// ForAttempt returns the engine submitter of one attempt.
func (q *QueueSubmitter) ForAttempt(meta AttemptMeta) engine.Submitter {
	return engine.SubmitterFunc(func(ctx context.Context, sub *engine.Submission) error {
		return q.Push(ctx, SubmissionMessageFor(meta, sub))
	})
}

// Push enqueues a submission message.
func (q *QueueSubmitter) Push(ctx context.Context, msg *model.SubmissionMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal submission: %w", err)
	}
	if err := q.rdb.RPush(ctx, config.WorkerKey.PersistSubmissionsQueue, data).Err(); err != nil {
		return fmt.Errorf("queue submission: %w", err)
	}
	return nil
}

// SubmissionMessageFor flattens a finalized submission into its queue message.
func SubmissionMessageFor(meta AttemptMeta, sub *engine.Submission) *model.SubmissionMessage {
	return &model.SubmissionMessage{
		AttemptID:     meta.AttemptID.String(),
		TestID:        meta.TestID.String(),
		StudentID:     meta.StudentID,
		Reason:        string(sub.Reason),
		TimeTaken:     sub.Payload.TimeTaken,
		AutoSubmitted: sub.Payload.AutoSubmission.IsAutoSubmitted,
		TabSwitches:   sub.Payload.AutoSubmission.TabSwitches,
		Digest:        sub.Digest,
		Payload:       sub.Body,
		SubmittedAt:   sub.SubmittedAt.UnixMilli(),
	}
}
