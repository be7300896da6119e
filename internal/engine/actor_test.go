package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestActor_SerializesCommandsAndSignals(t *testing.T) {
	events := make(chan Event, 64)
	release := make(chan struct{})
	sub := &recordingSubmitter{}

	a := NewActor(mustTest(1, 3, 10), Options{
		Submitter: SubmitterFunc(func(ctx context.Context, s *Submission) error {
			<-release
			return sub.Submit(ctx, s)
		}),
		Observer: func(ev Event) { events <- ev },
	})

	ctx, cancel := context.WithCancel(context.Background())
	go a.Run(ctx)
	defer func() {
		cancel()
		<-a.Done()
	}()

	var started bool
	require.NoError(t, a.Do(ctx, func(e *Engine) { started = e.Start(nil) }))
	require.True(t, started)

	require.NoError(t, a.Signal(ctx, Signal{Event: SignalBlur}))
	waitFor(t, events, EventViolation)

	v, err := a.View(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v.Strikes)
	assert.Equal(t, InteractionStrikeWarning, v.Interaction.Kind)

	require.NoError(t, a.Do(ctx, func(e *Engine) {
		e.Resume(nil)
		e.Submit(ReasonManual)
	}))

	v, err = a.View(ctx)
	require.NoError(t, err)
	assert.Equal(t, DeliveryPending, v.Delivery, "delivery runs off the loop")

	close(release)
	waitFor(t, events, EventDelivered)

	v, err = a.View(ctx)
	require.NoError(t, err)
	assert.Equal(t, DeliveryDelivered, v.Delivery)
	assert.Equal(t, 1, sub.Count())
}

func TestActor_StoppedLoopRejectsWork(t *testing.T) {
	a := NewActor(mustTest(1, 1, 10), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	go a.Run(ctx)
	cancel()
	<-a.Done()

	assert.ErrorIs(t, a.Do(context.Background(), func(*Engine) {}), ErrActorStopped)
	assert.ErrorIs(t, a.Signal(context.Background(), Signal{Event: SignalBlur}), ErrActorStopped)
}

func TestActor_DeliveryResultAfterStopIsDropped(t *testing.T) {
	release := make(chan struct{})
	finished := make(chan struct{})
	a := NewActor(mustTest(1, 1, 10), Options{
		Submitter: SubmitterFunc(func(context.Context, *Submission) error {
			defer close(finished)
			<-release
			return nil
		}),
	})
	ctx, cancel := context.WithCancel(context.Background())
	go a.Run(ctx)

	require.NoError(t, a.Do(ctx, func(e *Engine) {
		e.Start(nil)
		e.Submit(ReasonManual)
	}))
	cancel()
	<-a.Done()
	close(release)
	<-finished
	// goleak in TestMain verifies the delivery goroutine exits.
}

func waitFor(t *testing.T, events <-chan Event, want EventType) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == want {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", want)
			return Event{}
		}
	}
}
