// Package client talks to the exam server on behalf of the exam CLI.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/engine"
	"github.com/stemsi/exstem-engine/internal/response"
)

const (
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 64 << 10
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Code    response.ErrCode
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server rejected submission: HTTP %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("server rejected submission: HTTP %d", e.Status)
}

// Temporary reports whether re-sending the same body may succeed.
func (e *APIError) Temporary() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests || e.Status == http.StatusRequestTimeout
}

// HTTPSubmitter delivers finalized submissions with
// PATCH {endpoint}/api/v1/student/tests/{id}/submit. The digest is sent as
// the Idempotency-Key so retries are safe.
type HTTPSubmitter struct {
	endpoint string
	token    string
	http     *http.Client
	log      zerolog.Logger
}

// NewHTTPSubmitter creates a submitter for endpoint (scheme and host, with
// an optional path prefix).
func NewHTTPSubmitter(endpoint, token string, log zerolog.Logger) (*HTTPSubmitter, error) {
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid endpoint %q", endpoint)
	}
	return &HTTPSubmitter{
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    token,
		http:     &http.Client{Timeout: defaultTimeout},
		log:      log.With().Str("component", "http_submitter").Logger(),
	}, nil
}

// Submit implements engine.Submitter.
func (s *HTTPSubmitter) Submit(ctx context.Context, sub *engine.Submission) error {
	return s.Deliver(ctx, sub.TestID, sub.Digest, sub.Reason, sub.Body)
}

// Deliver sends a stored body. It satisfies outbox.Deliverer.
func (s *HTTPSubmitter) Deliver(ctx context.Context, testID, digest string, reason engine.SubmitReason, body []byte) error {
	target := fmt.Sprintf("%s/api/v1/student/tests/%s/submit", s.endpoint, url.PathEscape(testID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", digest)
	req.Header.Set("X-Submit-Reason", string(reason))
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		s.log.Info().Str("test_id", testID).Str("digest", digest).Int("status", resp.StatusCode).Msg("Submission delivered")
		return nil
	}

	apiErr := &APIError{Status: resp.StatusCode}
	var env response.Response
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if json.Unmarshal(raw, &env) == nil && env.Error != nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
	}
	s.log.Warn().Str("test_id", testID).Str("digest", digest).Int("status", resp.StatusCode).
		Str("code", string(apiErr.Code)).Msg("Submission rejected")
	return apiErr
}
