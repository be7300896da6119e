package engine

import (
	"context"
	"errors"
	"time"
)

// ErrActorStopped is returned when an actor's loop is no longer running.
var ErrActorStopped = errors.New("attempt loop stopped")

const (
	tickInterval   = time.Second
	commandBacklog = 16
	signalBacklog  = 32
)

// Actor owns an Engine on a single goroutine. Commands, integrity signals,
// submission results and 1 Hz timer ticks are applied one at a time in
// arrival order, so no engine operation ever observes a partial update.
type Actor struct {
	engine  *Engine
	clock   Clock
	cmds    chan func(*Engine)
	signals chan Signal
	done    chan struct{}
}

// NewActor creates an actor around a new engine. opts.Scheduler is
// replaced so submission results come back through the loop.
func NewActor(test *Test, opts Options) *Actor {
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	a := &Actor{
		clock:   opts.Clock,
		cmds:    make(chan func(*Engine), commandBacklog),
		signals: make(chan Signal, signalBacklog),
		done:    make(chan struct{}),
	}
	opts.Scheduler = actorScheduler{a: a}
	a.engine = New(test, opts)
	return a
}

// Run processes events until ctx is cancelled. Call it once, in its own
// goroutine.
func (a *Actor) Run(ctx context.Context) {
	defer close(a.done)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-a.cmds:
			fn(a.engine)
		case sig := <-a.signals:
			sig.At = a.clock.Now()
			a.engine.HandleSignal(sig)
		case <-ticker.C:
			a.engine.Tick(a.clock.Now())
		}
	}
}

// Done is closed once Run has returned.
func (a *Actor) Done() <-chan struct{} { return a.done }

// Signals is the inbound channel of raw platform events.
func (a *Actor) Signals() chan<- Signal { return a.signals }

// Signal queues sig for the integrity monitor.
func (a *Actor) Signal(ctx context.Context, sig Signal) error {
	select {
	case a.signals <- sig:
		return nil
	case <-a.done:
		return ErrActorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn on the loop and waits until it has returned.
func (a *Actor) Do(ctx context.Context, fn func(e *Engine)) error {
	finished := make(chan struct{})
	cmd := func(e *Engine) {
		defer close(finished)
		fn(e)
	}

	select {
	case a.cmds <- cmd:
	case <-a.done:
		return ErrActorStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-a.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrActorStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// View is a convenience wrapper returning the engine's snapshot.
func (a *Actor) View(ctx context.Context) (View, error) {
	var v View
	err := a.Do(ctx, func(e *Engine) { v = e.View() })
	return v, err
}

type actorScheduler struct {
	a *Actor
}

func (s actorScheduler) Go(timeout time.Duration, work func(ctx context.Context) error, done func(error)) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := work(ctx)
		cancel()

		select {
		case s.a.cmds <- func(*Engine) { done(err) }:
		case <-s.a.done:
		}
	}()
}
