package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/engine"
	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
	ws "github.com/stemsi/exstem-engine/internal/websocket"
)

const (
	// clockInterval refreshes the countdown on idle connections.
	clockInterval = time.Second
	actionTimeout = 5 * time.Second
	outBacklog    = 16
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams a live attempt over a WebSocket.
type WSHandler struct {
	attempts *service.AttemptService
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attempts *service.AttemptService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attempts: attempts,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/student/attempts/:attempt_id/stream
// Accepts candidate actions and platform signals, pushes views and notices.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	la, err := h.attempts.Get(attemptID, claims.UserID)
	if err != nil {
		failWith(c, h.log, err, "Resolve attempt error")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Int("student_id", claims.UserID).
		Str("attempt_id", attemptID.String()).
		Logger()
	wsLog.Info().Msg("Student connected")

	events, unsubscribe := la.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Only the writer goroutine touches conn for writes.
	out := make(chan interface{}, outBacklog)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(ctx, conn, la, events, out, wsLog)
		// Unblock the reader when the writer gives up first.
		cancel()
		conn.Close()
	}()

	if v, err := la.View(ctx); err == nil {
		out <- ws.ViewResponse{Event: ws.EventView, View: v}
	}

	h.readLoop(ctx, conn, la, out, wsLog)
	cancel()
	<-writerDone
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, la *service.LiveAttempt, out chan<- interface{}, wsLog zerolog.Logger) {
	send := func(v interface{}) {
		select {
		case out <- v:
		case <-ctx.Done():
		}
	}

	for {
		var req ws.Request
		if err := ws.ReadJSON(conn, &req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		actx, cancel := context.WithTimeout(ctx, actionTimeout)
		resp := h.dispatch(actx, la, &req, wsLog)
		cancel()
		if resp != nil {
			send(resp)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// dispatch runs one client request against the attempt and returns the
// reply, if any. Events caused by the request reach the client through
// the subscription.
func (h *WSHandler) dispatch(ctx context.Context, la *service.LiveAttempt, req *ws.Request, wsLog zerolog.Logger) interface{} {
	switch req.Action {
	case ws.ActionPing:
		return ws.PongResponse{Event: ws.EventPong}

	case ws.ActionSignal:
		if req.Signal == nil {
			return ws.ErrorResponse{Event: ws.EventError, Action: req.Action, Error: ws.ErrMissingField.Error()}
		}
		if err := la.Signal(ctx, *req.Signal); err != nil {
			return h.actionError(req.Action, err, wsLog)
		}
		return nil

	case ws.ActionRetrySubmit:
		if _, err := la.Retry(ctx); err != nil {
			return h.actionError(req.Action, err, wsLog)
		}
		return h.viewAfter(ctx, la, req.Action, true)
	}

	fn, err := req.EngineAction()
	if err != nil {
		return ws.ErrorResponse{Event: ws.EventError, Action: req.Action, Error: err.Error()}
	}
	applied, err := la.Apply(ctx, fn)
	if err != nil {
		return h.actionError(req.Action, err, wsLog)
	}
	return h.viewAfter(ctx, la, req.Action, applied)
}

func (h *WSHandler) viewAfter(ctx context.Context, la *service.LiveAttempt, action ws.Action, applied bool) interface{} {
	v, err := la.View(ctx)
	if err != nil {
		return ws.ErrorResponse{Event: ws.EventError, Action: action, Error: err.Error()}
	}
	return ws.ViewResponse{Event: ws.EventView, Action: action, Applied: &applied, View: v}
}

func (h *WSHandler) actionError(action ws.Action, err error, wsLog zerolog.Logger) ws.ErrorResponse {
	if status, _ := errorStatus(err); status >= http.StatusInternalServerError {
		wsLog.Error().Err(err).Str("action", string(action)).Msg("Action failed")
	}
	return ws.ErrorResponse{Event: ws.EventError, Action: action, Error: err.Error()}
}

// writeLoop forwards replies and attempt events to the client until ctx is
// done or the attempt's loop stops.
func (h *WSHandler) writeLoop(
	ctx context.Context,
	conn *websocket.Conn,
	la *service.LiveAttempt,
	events <-chan engine.Event,
	out <-chan interface{},
	wsLog zerolog.Logger,
) {
	clock := time.NewTicker(clockInterval)
	defer clock.Stop()

	write := func(v interface{}) bool {
		if err := ws.WriteTyped(conn, v); err != nil {
			wsLog.Debug().Err(err).Msg("Write failed")
			return false
		}
		return true
	}
	pushView := func() bool {
		v, err := la.View(ctx)
		if err != nil {
			return true
		}
		return write(ws.ViewResponse{Event: ws.EventView, View: v})
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-la.Done():
			write(ws.ErrorResponse{Event: ws.EventError, Error: engine.ErrActorStopped.Error()})
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "attempt closed"),
				time.Now().Add(time.Second))
			return

		case v := <-out:
			if !write(v) {
				return
			}

		case ev := <-events:
			if msg := eventMessage(ev); msg != nil && !write(msg) {
				return
			}
			if ev.Type != engine.EventAnswer && !pushView() {
				return
			}

		case <-clock.C:
			if !pushView() {
				return
			}
		}
	}
}

// eventMessage converts an engine event into a client message. Events the
// view already reflects return nil.
func eventMessage(ev engine.Event) interface{} {
	switch ev.Type {
	case engine.EventNotice:
		return ws.NoticeResponse{Event: ws.EventNotice, Message: ev.Message}
	case engine.EventSubmitted:
		resp := ws.SubmittedResponse{Event: ws.EventSubmitted, Reason: ev.Reason}
		if ev.Submission != nil {
			resp.Digest = ev.Submission.Digest
			if ev.Submission.Payload != nil {
				resp.TimeTaken = ev.Submission.Payload.TimeTaken
			}
		}
		return resp
	}
	return nil
}
