package database

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	connectAttempts = 5
	connectBackoff  = 2 * time.Second
)

// waitFor calls ping until it succeeds, doubling the pause between tries.
// Containers for the database and the server usually start together, so the
// first tries are expected to fail.
func waitFor(ctx context.Context, log zerolog.Logger, what string, attempts int, backoff time.Duration, ping func(context.Context) error) error {
	var err error
	for i := 1; i <= attempts; i++ {
		if err = ping(ctx); err == nil {
			return nil
		}
		if i == attempts {
			break
		}
		log.Warn().Err(err).Str("target", what).Int("attempt", i).Dur("retry_in", backoff).Msg("Not reachable yet")

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", what, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("%s unreachable after %d attempts: %w", what, attempts, err)
}
