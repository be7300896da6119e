package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/engine"
	"github.com/stemsi/exstem-engine/internal/model"
)

var (
	// ErrIdempotencyKeyMismatch is returned when the Idempotency-Key header
	// is not the digest of the body it came with.
	ErrIdempotencyKeyMismatch = errors.New("idempotency key does not match payload")
	// ErrAttemptRunning is returned when the student's attempt on the test
	// is still running on this server.
	ErrAttemptRunning = errors.New("attempt is still running online")
)

const digestTTL = 24 * time.Hour

// attemptOpener opens, or finds, the attempt an offline payload finalizes.
type attemptOpener interface {
	CreateOrGetOpen(ctx context.Context, testID uuid.UUID, studentID int) (*model.Attempt, bool, error)
}

type submissionQueue interface {
	Push(ctx context.Context, msg *model.SubmissionMessage) error
}

// liveAttempts reports attempts whose engine runs in this process.
type liveAttempts interface {
	HasLive(testID uuid.UUID, studentID int) bool
}

// DigestClaims remembers which submission digests were already accepted.
type DigestClaims interface {
	// Claim returns false when key was claimed before and has not expired.
	Claim(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisDigestClaims keeps digest claims as expiring Redis keys.
type RedisDigestClaims struct {
	rdb *redis.Client
}

// NewRedisDigestClaims creates a new RedisDigestClaims.
func NewRedisDigestClaims(rdb *redis.Client) *RedisDigestClaims {
	return &RedisDigestClaims{rdb: rdb}
}

func (c *RedisDigestClaims) Claim(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, key, owner, ttl).Result()
}

func (c *RedisDigestClaims) Release(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// OfflineSubmissionService accepts payloads assembled by an engine that ran
// outside this server, such as the exam CLI.
type OfflineSubmissionService struct {
	tests     engineSource
	attempts  attemptOpener
	submitter submissionQueue
	claims    DigestClaims
	live      liveAttempts
	log       zerolog.Logger
}

// NewOfflineSubmissionService creates a new OfflineSubmissionService.
func NewOfflineSubmissionService(
	tests engineSource,
	attempts attemptOpener,
	submitter submissionQueue,
	claims DigestClaims,
	live liveAttempts,
	log zerolog.Logger,
) *OfflineSubmissionService {
	return &OfflineSubmissionService{
		tests:     tests,
		attempts:  attempts,
		submitter: submitter,
		claims:    claims,
		live:      live,
		log:       log.With().Str("component", "offline_submission").Logger(),
	}
}

// Accept validates body against the test and queues it. A body the same
// student already sent for the test returns duplicate=true and is not queued
// again. It fails with ErrAttemptRunning while the attempt runs online.
func (s *OfflineSubmissionService) Accept(
	ctx context.Context,
	testID uuid.UUID,
	studentID int,
	body []byte,
	idempotencyKey string,
	reason string,
) (attemptID uuid.UUID, duplicate bool, err error) {
	var payload model.SubmitTestPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return uuid.Nil, false, fmt.Errorf("%w: %v", engine.ErrInvalidPayload, err)
	}

	digest := engine.Digest(body)
	if idempotencyKey != "" && idempotencyKey != digest {
		return uuid.Nil, false, ErrIdempotencyKeyMismatch
	}

	test, err := s.tests.Engine(ctx, testID)
	if err != nil {
		return uuid.Nil, false, err
	}
	if err := engine.ValidatePayload(test, &payload); err != nil {
		return uuid.Nil, false, err
	}

	if s.live != nil && s.live.HasLive(testID, studentID) {
		return uuid.Nil, false, ErrAttemptRunning
	}

	r, ok := engine.ParseSubmitReason(reason)
	if !ok {
		r = inferReason(&payload)
	}

	digestKey := config.CacheKey.SubmissionDigestKey(testID.String(), studentID, digest)
	fresh, err := s.claims.Claim(ctx, digestKey, strconv.Itoa(studentID), digestTTL)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("claim digest: %w", err)
	}
	if !fresh {
		s.log.Info().Str("digest", digest).Int("student_id", studentID).Msg("Duplicate offline submission ignored")
		return uuid.Nil, true, nil
	}

	release := func() {
		if err := s.claims.Release(context.Background(), digestKey); err != nil {
			s.log.Warn().Err(err).Str("digest", digest).Msg("Failed to release digest claim")
		}
	}

	row, _, err := s.attempts.CreateOrGetOpen(ctx, testID, studentID)
	if err != nil {
		release()
		return uuid.Nil, false, fmt.Errorf("create attempt: %w", err)
	}

	meta := AttemptMeta{AttemptID: row.ID, TestID: testID, StudentID: studentID}
	msg := &model.SubmissionMessage{
		AttemptID:     meta.AttemptID.String(),
		TestID:        meta.TestID.String(),
		StudentID:     studentID,
		Reason:        string(r),
		TimeTaken:     payload.TimeTaken,
		AutoSubmitted: payload.AutoSubmission.IsAutoSubmitted,
		TabSwitches:   payload.AutoSubmission.TabSwitches,
		Digest:        digest,
		Payload:       body,
		SubmittedAt:   time.Now().UnixMilli(),
	}
	if err := s.submitter.Push(ctx, msg); err != nil {
		release()
		return uuid.Nil, false, err
	}

	s.log.Info().
		Str("attempt_id", row.ID.String()).
		Int("student_id", studentID).
		Str("reason", string(r)).
		Msg("Offline submission queued")
	return row.ID, false, nil
}

// inferReason guesses why an offline attempt ended when the client did not say.
func inferReason(p *model.SubmitTestPayload) engine.SubmitReason {
	switch {
	case !p.AutoSubmission.IsAutoSubmitted:
		return engine.ReasonManual
	case p.AutoSubmission.TabSwitches > 0:
		return engine.ReasonViolation
	default:
		return engine.ReasonTimeout
	}
}
