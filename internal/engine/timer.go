package engine

import (
	"time"
)

// Clock supplies the current time. Readings must carry a monotonic
// component so elapsed time is immune to wall clock changes.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// SectionTimer counts down one section. A new instance is created for every
// section; once stopped or expired it never fires again.
//
// The timer owns no goroutine. Its owner calls Tick at 1 Hz; remaining time
// is derived from the start instant, so a late tick observes the full
// elapsed time and expires immediately instead of extending the section.
type SectionTimer struct {
	duration int
	started  time.Time
	running  bool
	done     bool

	onTick   func(remaining int)
	onExpire func()
}

// NewSectionTimer creates an idle timer. Either callback may be nil.
func NewSectionTimer(onTick func(remaining int), onExpire func()) *SectionTimer {
	return &SectionTimer{onTick: onTick, onExpire: onExpire}
}

// Start begins counting down duration from now. A stopped timer cannot be
// restarted.
func (t *SectionTimer) Start(now time.Time, duration time.Duration) {
	if t.done || t.running {
		return
	}
	t.duration = max(0, int(duration/time.Second))
	t.started = now
	t.running = true
}

// Stop renders the timer inert.
func (t *SectionTimer) Stop() {
	t.running = false
	t.done = true
}

// Running reports whether ticks are still delivered.
func (t *SectionTimer) Running() bool { return t.running }

// Elapsed returns whole seconds spent since Start, capped at the duration.
func (t *SectionTimer) Elapsed(now time.Time) int {
	if t.started.IsZero() {
		return 0
	}
	sec := int(now.Sub(t.started) / time.Second)
	return clamp(sec, 0, t.duration)
}

// Remaining returns whole seconds left at now.
func (t *SectionTimer) Remaining(now time.Time) int {
	if t.started.IsZero() {
		return t.duration
	}
	return t.duration - t.Elapsed(now)
}

// Tick delivers the tick callback and, when nothing remains, the expiry
// callback exactly once.
func (t *SectionTimer) Tick(now time.Time) {
	if !t.running {
		return
	}
	remaining := t.Remaining(now)
	if t.onTick != nil {
		t.onTick(remaining)
	}
	if remaining > 0 || !t.running {
		return
	}
	t.running = false
	t.done = true
	if t.onExpire != nil {
		t.onExpire()
	}
}
