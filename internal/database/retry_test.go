package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestWaitFor_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := waitFor(context.Background(), zerolog.Nop(), "postgres", 5, time.Millisecond, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWaitFor_GivesUp(t *testing.T) {
	refused := errors.New("connection refused")
	calls := 0
	err := waitFor(context.Background(), zerolog.Nop(), "redis", 3, time.Millisecond, func(context.Context) error {
		calls++
		return refused
	})
	require.ErrorIs(t, err, refused)
	assert.Contains(t, err.Error(), "redis unreachable after 3 attempts")
	assert.Equal(t, 3, calls)
}

func TestWaitFor_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := waitFor(ctx, zerolog.Nop(), "postgres", 5, time.Hour, func(context.Context) error {
		calls++
		return errors.New("connection refused")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
