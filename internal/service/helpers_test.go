package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/engine"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
	"github.com/stretchr/testify/require"
)

func sampleTest(t *testing.T, sections, questions int) *engine.Test {
	t.Helper()
	def := &model.EngineTest{TestName: "Tryout Sains"}
	for s := 0; s < sections; s++ {
		sec := model.EngineSection{
			SectionName:     fmt.Sprintf("Section %c", 'A'+s),
			SectionDuration: 10,
		}
		for q := 0; q < questions; q++ {
			sec.Questions = append(sec.Questions, model.EngineQuestion{
				QuestionText: fmt.Sprintf("Question %d.%d", s+1, q+1),
				Options:      []string{"a", "b", "c", "d"},
			})
		}
		def.Sections = append(def.Sections, sec)
	}
	test, err := engine.Normalize(uuid.NewString(), def)
	require.NoError(t, err)
	return test
}

// unreachableRedis returns a client whose commands fail fast.
func unreachableRedis(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func newRegistry(t *testing.T, idleTTL time.Duration) *AttemptService {
	t.Helper()
	rdb := unreachableRedis(t)
	s := NewAttemptService(nil, nil, NewEventSink(rdb, zerolog.Nop()), NewQueueSubmitter(rdb),
		engine.DefaultPolicy(), idleTTL, zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func register(s *AttemptService, test *engine.Test, studentID int) *LiveAttempt {
	meta := AttemptMeta{AttemptID: uuid.New(), TestID: uuid.MustParse(test.ID), StudentID: studentID}
	s.mu.Lock()
	defer s.mu.Unlock()
	la := s.spawn(meta, test, nil)
	s.live[meta.AttemptID] = la
	s.byPair[studentTest{testID: meta.TestID, studentID: studentID}] = meta.AttemptID
	return la
}

// fakeTests serves engine definitions from memory.
type fakeTests map[uuid.UUID]*engine.Test

func (f fakeTests) Engine(_ context.Context, id uuid.UUID) (*engine.Test, error) {
	t, ok := f[id]
	if !ok {
		return nil, repository.ErrTestNotFound
	}
	return t, nil
}

// fakeAttempts keeps one open attempt per student and test in memory.
type fakeAttempts struct {
	mu       sync.Mutex
	open     map[studentTest]*model.Attempt
	progress map[uuid.UUID]*model.AttemptProgress
}

func newFakeAttempts() *fakeAttempts {
	return &fakeAttempts{
		open:     make(map[studentTest]*model.Attempt),
		progress: make(map[uuid.UUID]*model.AttemptProgress),
	}
}

func (f *fakeAttempts) CreateOrGetOpen(_ context.Context, testID uuid.UUID, studentID int) (*model.Attempt, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pair := studentTest{testID: testID, studentID: studentID}
	if a, ok := f.open[pair]; ok {
		return a, false, nil
	}
	a := &model.Attempt{ID: uuid.New(), TestID: testID, StudentID: studentID, Status: model.AttemptStatusOpen}
	f.open[pair] = a
	return a, true, nil
}

func (f *fakeAttempts) GetByID(_ context.Context, id uuid.UUID) (*model.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.open {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, repository.ErrAttemptNotFound
}

func (f *fakeAttempts) GetProgress(_ context.Context, attemptID uuid.UUID) (*model.AttemptProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.progress[attemptID]; ok {
		return p, nil
	}
	return &model.AttemptProgress{Answers: map[string]int{}}, nil
}

func contextWithTimeout(t *testing.T, d time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}
