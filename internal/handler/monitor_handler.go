package handler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

type MonitorHandler struct {
	rdb            *redis.Client
	tests          *service.TestService
	monitorService *service.MonitorService
	log            zerolog.Logger
}

func NewMonitorHandler(
	rdb *redis.Client,
	tests *service.TestService,
	monitorService *service.MonitorService,
	log zerolog.Logger,
) *MonitorHandler {
	return &MonitorHandler{
		rdb:            rdb,
		tests:          tests,
		monitorService: monitorService,
		log:            log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorTestSSE godoc
// GET /api/v1/admin/tests/:test_id/monitor
// Streams attempt events of a test, with a periodic progress refresh.
func (h *MonitorHandler) MonitorTestSSE(c *gin.Context) {
	testID, ok := parseTestID(c)
	if !ok {
		return
	}

	reqCtx := c.Request.Context()
	test, err := h.tests.GetByID(reqCtx, testID)
	if err != nil {
		failWith(c, h.log, err, "Get test error")
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	hasAttempts := h.sendSnapshot(c, reqCtx, test)

	pubsub := h.rdb.Subscribe(reqCtx, config.CacheKey.TestMonitorChannel(testID.String()))
	defer pubsub.Close()
	ch := pubsub.Channel()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()
	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	testLog := h.log.With().Str("test_id", testID.String()).Logger()
	testLog.Info().Msg("Admin attached to live monitor SSE")

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			testLog.Info().Msg("Admin disconnected from live monitor SSE")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Payloads are already JSON monitor events.
			writeSSEData(c, []byte(msg.Payload))
			hasAttempts = true

		case <-refreshTicker.C:
			if !hasAttempts {
				continue
			}
			h.sendRefresh(c, reqCtx, testID)

		case <-keepAliveTicker.C:
			writeSSEData(c, pingPayload)
		}
	}
}

func writeSSEData(c *gin.Context, payload []byte) {
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(payload)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}

// sendSnapshot writes the first event and reports whether any attempt is open.
func (h *MonitorHandler) sendSnapshot(c *gin.Context, parentCtx context.Context, test *model.Test) bool {
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	progress, err := h.monitorService.GetProgress(ctx, test.ID)
	if err != nil {
		h.log.Warn().Err(err).Str("test_id", test.ID.String()).Msg("Failed to fetch progress for snapshot")
		progress = &service.ProgressSnapshot{Attempts: []model.MonitorAttempt{}}
	}

	c.SSEvent("message", gin.H{
		"type": "snapshot",
		"data": gin.H{
			"test": gin.H{
				"id":             test.ID.String(),
				"test_name":      test.TestName,
				"section_count":  test.SectionCount,
				"question_count": test.QuestionCount,
			},
			"total_open":       len(progress.Attempts),
			"total_violations": progress.TotalViolations,
			"attempts":         progress.Attempts,
		},
	})
	c.Writer.Flush()
	return len(progress.Attempts) > 0
}

// sendRefresh polls current progress and sends a compact refresh event.
func (h *MonitorHandler) sendRefresh(c *gin.Context, parentCtx context.Context, testID uuid.UUID) {
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	progress, err := h.monitorService.GetProgress(ctx, testID)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to fetch progress for refresh")
		return
	}

	c.SSEvent("message", gin.H{
		"type":             "refresh",
		"total_violations": progress.TotalViolations,
		"attempts":         progress.Attempts,
	})
	c.Writer.Flush()
}
