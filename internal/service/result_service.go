package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-engine/internal/engine"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
	"github.com/stemsi/exstem-engine/internal/response"
)

// ErrAttemptNotSubmitted is returned when reviewing an attempt that has no
// stored payload yet.
var ErrAttemptNotSubmitted = errors.New("attempt has not been submitted")

// ResultService serves persisted attempt results to admins.
type ResultService struct {
	tests    *TestService
	attempts *repository.AttemptRepository
}

// NewResultService creates a new ResultService.
func NewResultService(tests *TestService, attempts *repository.AttemptRepository) *ResultService {
	return &ResultService{tests: tests, attempts: attempts}
}

// ListByTest lists attempts of a test page by page.
func (s *ResultService) ListByTest(ctx context.Context, testID uuid.UUID, page, perPage int) ([]model.AttemptResult, *response.Pagination, error) {
	page, perPage = clampPage(page, perPage)

	results, total, err := s.attempts.ListResultsByTest(ctx, testID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, nil, err
	}
	return results, paginate(page, perPage, total), nil
}

// AttemptReview is the read-only review of a submitted attempt.
type AttemptReview struct {
	Attempt *model.Attempt `json:"attempt"`
	engine.ReviewSummary
}

// Review classifies every answer of a submitted attempt against the key.
func (s *ResultService) Review(ctx context.Context, attemptID uuid.UUID) (*AttemptReview, error) {
	a, err := s.attempts.GetByID(ctx, attemptID)
	if errors.Is(err, repository.ErrAttemptNotFound) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, err
	}
	if a.Status != model.AttemptStatusSubmitted || len(a.Payload) == 0 {
		return nil, ErrAttemptNotSubmitted
	}

	var payload model.SubmitTestPayload
	if err := json.Unmarshal(a.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	test, err := s.tests.Load(ctx, a.TestID)
	if err != nil {
		return nil, err
	}
	keys, err := s.tests.AnswerKey(ctx, a.TestID)
	if err != nil {
		return nil, err
	}

	a.Payload = nil
	return &AttemptReview{
		Attempt:       a,
		ReviewSummary: engine.Review(test, &payload, keys),
	}, nil
}
