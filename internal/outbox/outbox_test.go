package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stemsi/exstem-engine/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	return s
}

func submission(digest string, at time.Time) *engine.Submission {
	return &engine.Submission{
		TestID:      "t1",
		Reason:      engine.ReasonTimeout,
		Body:        []byte(`{"selectedAnswers":[],"timeTaken":60}`),
		Digest:      digest,
		SubmittedAt: at,
	}
}

type fakeDeliverer struct {
	fail map[string]error
	sent []string
}

func (f *fakeDeliverer) Deliver(_ context.Context, testID, digest string, reason engine.SubmitReason, body []byte) error {
	f.sent = append(f.sent, digest)
	return f.fail[digest]
}

func TestPutListDelete(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 2, 7, 59, 0, 0, time.UTC)

	require.NoError(t, s.Put(ctx, submission("b", at.Add(time.Second)), errors.New("offline")))
	require.NoError(t, s.Put(ctx, submission("a", at), errors.New("offline")))

	entries, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].Digest, "oldest first")
	assert.Equal(t, engine.ReasonTimeout, entries[0].Reason)
	assert.JSONEq(t, `{"selectedAnswers":[],"timeTaken":60}`, string(entries[0].Body))
	assert.Equal(t, 1, entries[0].Attempts)
	assert.Equal(t, "offline", entries[0].LastError)
	assert.True(t, entries[0].SubmittedAt.Equal(at))

	require.NoError(t, s.Delete(ctx, "a"))
	assert.ErrorIs(t, s.Delete(ctx, "a"), ErrNotFound)

	entries, err = s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPutSameDigestBumpsAttempts(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	sub := submission("d1", time.Now())

	require.NoError(t, s.Put(ctx, sub, errors.New("first")))
	require.NoError(t, s.Put(ctx, sub, errors.New("second")))

	entries, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 2, entries[0].Attempts)
	assert.Equal(t, "second", entries[0].LastError)
}

func TestFlush(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	at := time.Now()

	require.NoError(t, s.Put(ctx, submission("ok", at), errors.New("offline")))
	require.NoError(t, s.Put(ctx, submission("bad", at.Add(time.Second)), errors.New("offline")))

	d := &fakeDeliverer{fail: map[string]error{"bad": errors.New("HTTP 503")}}
	res, err := s.Flush(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, FlushResult{Delivered: 1, Failed: 1}, res)
	assert.Equal(t, []string{"ok", "bad"}, d.sent)

	entries, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "bad", entries[0].Digest)
	assert.Equal(t, 2, entries[0].Attempts)
	assert.Equal(t, "HTTP 503", entries[0].LastError)
}

func TestRecordFailureUnknownDigest(t *testing.T) {
	s := openMemory(t)
	assert.ErrorIs(t, s.RecordFailure(context.Background(), "nope", errors.New("x")), ErrNotFound)
}

func TestFallback(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	sub := submission("f1", time.Now())

	down := errors.New("connection refused")
	failing := s.Fallback(engine.SubmitterFunc(func(context.Context, *engine.Submission) error { return down }))
	assert.ErrorIs(t, failing.Submit(ctx, sub), down)

	entries, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "connection refused", entries[0].LastError)

	ok := s.Fallback(engine.SubmitterFunc(func(context.Context, *engine.Submission) error { return nil }))
	require.NoError(t, ok.Submit(ctx, sub))

	entries, err = s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, ok.Submit(ctx, submission("never-stored", time.Now())))
}
