package service

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
)

// MonitorService orchestrates the live test monitor.
type MonitorService struct {
	monitorRepo *repository.MonitorRepository
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(monitorRepo *repository.MonitorRepository) *MonitorService {
	return &MonitorService{monitorRepo: monitorRepo}
}

// ProgressSnapshot lists open attempts with their progress.
type ProgressSnapshot struct {
	Attempts        []model.MonitorAttempt `json:"attempts"`
	TotalViolations int64                  `json:"total_violations"`
}

// GetProgress returns every open attempt with answered and violation
// counts. The three reads run concurrently.
func (s *MonitorService) GetProgress(ctx context.Context, testID uuid.UUID) (*ProgressSnapshot, error) {
	var (
		open                  []model.MonitorAttempt
		answered, violations  map[uuid.UUID]int64
		openErr, ansErr, vErr error
		wg                    sync.WaitGroup
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		open, openErr = s.monitorRepo.GetOpenAttempts(ctx, testID)
	}()
	go func() {
		defer wg.Done()
		answered, ansErr = s.monitorRepo.GetAnsweredCounts(ctx, testID)
	}()
	go func() {
		defer wg.Done()
		violations, vErr = s.monitorRepo.GetViolationCounts(ctx, testID)
	}()
	wg.Wait()

	// Attempts and answered counts are critical; violation counts are best-effort
	if openErr != nil {
		return nil, openErr
	}
	if ansErr != nil {
		return nil, ansErr
	}
	if vErr != nil {
		violations = nil
	}
	return mergeProgress(open, answered, violations), nil
}

func mergeProgress(open []model.MonitorAttempt, answered, violations map[uuid.UUID]int64) *ProgressSnapshot {
	snap := &ProgressSnapshot{Attempts: make([]model.MonitorAttempt, 0, len(open))}
	for _, a := range open {
		id, err := uuid.Parse(a.AttemptID)
		if err == nil {
			a.Answered = answered[id]
			a.Violations = violations[id]
		}
		snap.Attempts = append(snap.Attempts, a)
	}
	for _, n := range violations {
		snap.TotalViolations += n
	}
	return snap
}
