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
	"github.com/stemsi/exstem-engine/internal/repository"
	"github.com/stemsi/exstem-engine/internal/response"
)

// Domain Errors
var (
	ErrTestNotPublished   = errors.New("test status is not PUBLISHED")
	ErrTestNotDraft       = errors.New("test status is not DRAFT")
	ErrAnswerKeyMismatch  = errors.New("answer key does not match the questions")
	ErrAnswerKeyNotCached = errors.New("answer key not found")
)

// TestService loads test definitions for the engine and keeps their Redis
// cache warm.
type TestService struct {
	testRepo *repository.TestRepository
	rdb      *redis.Client
	ttl      time.Duration
	log      zerolog.Logger
}

// NewTestService creates a new TestService. ttl bounds cached definitions.
func NewTestService(testRepo *repository.TestRepository, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *TestService {
	return &TestService{
		testRepo: testRepo,
		rdb:      rdb,
		ttl:      ttl,
		log:      log.With().Str("component", "test_service").Logger(),
	}
}

// GetByID retrieves a test header.
func (s *TestService) GetByID(ctx context.Context, id uuid.UUID) (*model.Test, error) {
	return s.testRepo.GetByID(ctx, id)
}

// List retrieves tests page by page. An empty status lists all.
func (s *TestService) List(ctx context.Context, status model.TestStatus, page, perPage int) ([]model.Test, *response.Pagination, error) {
	page, perPage = clampPage(page, perPage)

	tests, total, err := s.testRepo.ListPaginated(ctx, status, perPage, (page-1)*perPage)
	if err != nil {
		return nil, nil, err
	}
	return tests, paginate(page, perPage, total), nil
}

// Import normalizes an authored test, stores it with its answer key and,
// when requested, publishes it.
func (s *TestService) Import(ctx context.Context, imp *model.TestImport) (*model.CreateTestResponse, error) {
	id := uuid.New()

	def := imp.EngineTest
	def.ID = ""
	t, err := engine.Normalize(id.String(), &def)
	if err != nil {
		return nil, err
	}

	keys, err := BuildAnswerKey(t, imp.AnswerKey)
	if err != nil {
		return nil, err
	}

	if err := s.testRepo.Create(ctx, id, t.Definition(), keys, model.TestStatusDraft); err != nil {
		return nil, fmt.Errorf("create test: %w", err)
	}

	status := model.TestStatusDraft
	if imp.Publish {
		if err := s.Publish(ctx, id); err != nil {
			return nil, err
		}
		status = model.TestStatusPublished
	}

	s.log.Info().
		Str("test_id", id.String()).
		Int("sections", len(t.Sections)).
		Int("questions", t.QuestionCount()).
		Msg("Test imported")

	return &model.CreateTestResponse{
		ID:            id.String(),
		TestName:      t.Name,
		Status:        status,
		SectionCount:  len(t.Sections),
		QuestionCount: t.QuestionCount(),
	}, nil
}

// BuildAnswerKey pairs each question of t with its 1-based correct option
// from key, indexed [section][question].
func BuildAnswerKey(t *engine.Test, key [][]int) (map[string]int, error) {
	if len(key) != len(t.Sections) {
		return nil, fmt.Errorf("%w: %d sections, %d key rows", ErrAnswerKeyMismatch, len(t.Sections), len(key))
	}

	out := make(map[string]int, t.QuestionCount())
	for si, sec := range t.Sections {
		if len(key[si]) != len(sec.Questions) {
			return nil, fmt.Errorf("%w: section %d has %d questions, %d keys",
				ErrAnswerKeyMismatch, si+1, len(sec.Questions), len(key[si]))
		}
		for qi, q := range sec.Questions {
			k := key[si][qi]
			if k < 1 || k > len(q.Options) {
				return nil, fmt.Errorf("%w: question %s has %d options, key %d",
					ErrAnswerKeyMismatch, q.ID, len(q.Options), k)
			}
			out[q.ID] = k
		}
	}
	return out, nil
}

// Publish makes a draft test available and warms its cache.
func (s *TestService) Publish(ctx context.Context, id uuid.UUID) error {
	t, err := s.testRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if t.Status != model.TestStatusDraft {
		return ErrTestNotDraft
	}

	if err := s.WarmCache(ctx, id); err != nil {
		return err
	}
	if err := s.testRepo.UpdateStatus(ctx, id, model.TestStatusPublished); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	s.log.Info().Str("test_id", id.String()).Msg("Test published")
	return nil
}

// RefreshCache re-caches the definition and answer key of a published test.
func (s *TestService) RefreshCache(ctx context.Context, id uuid.UUID) error {
	t, err := s.testRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if t.Status != model.TestStatusPublished {
		return ErrTestNotPublished
	}

	if err := s.WarmCache(ctx, id); err != nil {
		return err
	}
	s.log.Info().Str("test_id", id.String()).Msg("Cache refreshed")
	return nil
}

// WarmCache loads a test's definition and answer key from PostgreSQL into Redis.
func (s *TestService) WarmCache(ctx context.Context, id uuid.UUID) error {
	def, err := s.testRepo.GetDefinition(ctx, id)
	if err != nil {
		return fmt.Errorf("get definition: %w", err)
	}
	keys, err := s.testRepo.GetAnswerKey(ctx, id)
	if err != nil {
		return fmt.Errorf("get answer key: %w", err)
	}
	if _, err := engine.Normalize(id.String(), def); err != nil {
		return err
	}

	defJSON, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	answerKey := make(map[string]interface{}, len(keys))
	for _, k := range keys {
		answerKey[k.QuestionID] = k.CorrectOption
	}

	keyKey := config.CacheKey.TestAnswerKey(id.String())
	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, config.CacheKey.TestDefinitionKey(id.String()), defJSON, s.ttl)
	pipe.Del(ctx, keyKey)
	pipe.HSet(ctx, keyKey, answerKey)
	pipe.Expire(ctx, keyKey, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Debug().
		Str("test_id", id.String()).
		Int("questions", len(keys)).
		Msg("Cache warmed")
	return nil
}

// PrewarmAllCaches loads all published tests into Redis on startup.
func (s *TestService) PrewarmAllCaches(ctx context.Context) error {
	ids, err := s.testRepo.ListPublishedIDs(ctx)
	if err != nil {
		return fmt.Errorf("list published tests: %w", err)
	}
	if len(ids) == 0 {
		s.log.Info().Msg("No published tests to prewarm")
		return nil
	}

	s.log.Info().Int("count", len(ids)).Msg("Prewarming published tests...")

	warmed := 0
	for _, id := range ids {
		if err := s.WarmCache(ctx, id); err != nil {
			s.log.Warn().Err(err).Str("test_id", id.String()).Msg("Failed to warm test, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().Int("warmed", warmed).Int("total", len(ids)).Msg("Prewarming complete")
	return nil
}

// Engine returns the normalized definition of a published test, from the
// cache when possible.
func (s *TestService) Engine(ctx context.Context, id uuid.UUID) (*engine.Test, error) {
	if t, ok := s.cached(ctx, id); ok {
		return t, nil
	}

	t, err := s.testRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != model.TestStatusPublished {
		return nil, ErrTestNotPublished
	}

	if err := s.WarmCache(ctx, id); err != nil {
		s.log.Warn().Err(err).Str("test_id", id.String()).Msg("Failed to warm cache on miss")
	}
	return s.Load(ctx, id)
}

// Load returns the normalized definition of a test whatever its status.
func (s *TestService) Load(ctx context.Context, id uuid.UUID) (*engine.Test, error) {
	if t, ok := s.cached(ctx, id); ok {
		return t, nil
	}
	def, err := s.testRepo.GetDefinition(ctx, id)
	if err != nil {
		return nil, err
	}
	return engine.Normalize(id.String(), def)
}

func (s *TestService) cached(ctx context.Context, id uuid.UUID) (*engine.Test, bool) {
	data, err := s.rdb.Get(ctx, config.CacheKey.TestDefinitionKey(id.String())).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn().Err(err).Str("test_id", id.String()).Msg("Definition cache unavailable, using database")
		}
		return nil, false
	}

	var def model.EngineTest
	if err := json.Unmarshal(data, &def); err != nil {
		s.log.Warn().Str("test_id", id.String()).Msg("Discarding malformed cached definition")
		return nil, false
	}
	t, err := engine.Normalize(id.String(), &def)
	if err != nil {
		s.log.Warn().Err(err).Str("test_id", id.String()).Msg("Discarding invalid cached definition")
		return nil, false
	}
	return t, true
}

// AnswerKey returns question ID to 1-based correct option.
func (s *TestService) AnswerKey(ctx context.Context, id uuid.UUID) (map[string]int, error) {
	cached, err := s.rdb.HGetAll(ctx, config.CacheKey.TestAnswerKey(id.String())).Result()
	if err == nil && len(cached) > 0 {
		keys := make(map[string]int, len(cached))
		for qid, v := range cached {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("parse cached key of %s: %w", qid, err)
			}
			keys[qid] = n
		}
		return keys, nil
	}

	rows, err := s.testRepo.GetAnswerKey(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrAnswerKeyNotCached
	}
	keys := make(map[string]int, len(rows))
	for _, k := range rows {
		keys[k.QuestionID] = k.CorrectOption
	}
	return keys, nil
}

func clampPage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}
	if perPage > 100 {
		perPage = 100
	}
	return page, perPage
}

func paginate(page, perPage, total int) *response.Pagination {
	return &response.Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: total,
		TotalPages: (total + perPage - 1) / perPage,
	}
}
