package engine

import (
	"time"
)

// Raw platform event names reported by the candidate's client.
const (
	SignalVisibilityChange = "visibilitychange"
	SignalBlur             = "blur"
	SignalFocus            = "focus"
	SignalFullscreenChange = "fullscreenchange"
	SignalCopy             = "copy"
	SignalCut              = "cut"
	SignalPaste            = "paste"
	SignalContextMenu      = "contextmenu"
)

// Signal is one raw platform event. At is stamped by the receiving loop.
type Signal struct {
	Event      string    `json:"event"`
	Hidden     bool      `json:"hidden,omitempty"`
	Fullscreen bool      `json:"fullscreen,omitempty"`
	At         time.Time `json:"-"`
}

// ViolationKind is the classified meaning of a signal.
type ViolationKind string

const (
	ViolationNone           ViolationKind = ""
	ViolationTabSwitch      ViolationKind = "tab_switch"
	ViolationFullscreenExit ViolationKind = "fullscreen_exit"
	ViolationClipboard      ViolationKind = "clipboard"
	ViolationContextMenu    ViolationKind = "context_menu"
)

// Bucket says how a classified signal is enforced.
type Bucket int

const (
	// BucketIgnore signals carry no integrity meaning.
	BucketIgnore Bucket = iota
	// BucketStrike signals count toward auto-submit.
	BucketStrike
	// BucketBlocked signals are prevented and reported without a strike.
	BucketBlocked
)

// Classify maps a raw event to a violation kind and its bucket. Visibility
// loss and focus loss both become tab_switch.
func Classify(sig Signal) (ViolationKind, Bucket) {
	switch sig.Event {
	case SignalVisibilityChange:
		if sig.Hidden {
			return ViolationTabSwitch, BucketStrike
		}
	case SignalBlur:
		return ViolationTabSwitch, BucketStrike
	case SignalFullscreenChange:
		if !sig.Fullscreen {
			return ViolationFullscreenExit, BucketStrike
		}
	case SignalCopy, SignalCut, SignalPaste:
		return ViolationClipboard, BucketBlocked
	case SignalContextMenu:
		return ViolationContextMenu, BucketBlocked
	}
	return ViolationNone, BucketIgnore
}

// Policy is the proctoring configuration of an attempt.
type Policy struct {
	MaxStrikes       int
	Cooldown         time.Duration
	BlockClipboard   bool
	BlockContextMenu bool
	SubmitTimeout    time.Duration
}

// DefaultPolicy is three strikes with a one second cooldown.
func DefaultPolicy() Policy {
	return Policy{
		MaxStrikes:       3,
		Cooldown:         time.Second,
		BlockClipboard:   true,
		BlockContextMenu: true,
		SubmitTimeout:    15 * time.Second,
	}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.MaxStrikes < 1 {
		p.MaxStrikes = d.MaxStrikes
	}
	if p.Cooldown < 0 {
		p.Cooldown = 0
	}
	if p.SubmitTimeout <= 0 {
		p.SubmitTimeout = d.SubmitTimeout
	}
	return p
}

// Verdict is the monitor's decision for one signal.
type Verdict struct {
	Kind       ViolationKind `json:"kind"`
	Bucket     Bucket        `json:"-"`
	Counted    bool          `json:"counted"`
	Strikes    int           `json:"strikes"`
	Warn       bool          `json:"warn"`
	Final      bool          `json:"final"`
	AutoSubmit bool          `json:"auto_submit"`
	Blocked    bool          `json:"blocked"`
}

// Monitor turns signals into verdicts against the store's strike counters.
type Monitor struct {
	store  *Store
	policy Policy
}

// NewMonitor creates a monitor enforcing policy on store.
func NewMonitor(store *Store, policy Policy) *Monitor {
	return &Monitor{store: store, policy: policy.normalized()}
}

// Observe classifies sig and, for strike-worthy kinds, registers it. The
// increment and the auto-submit decision happen in one synchronous step.
func (m *Monitor) Observe(sig Signal) Verdict {
	kind, bucket := Classify(sig)
	v := Verdict{Kind: kind, Bucket: bucket, Strikes: m.store.Strikes()}

	switch bucket {
	case BucketBlocked:
		switch kind {
		case ViolationClipboard:
			v.Blocked = m.policy.BlockClipboard
		case ViolationContextMenu:
			v.Blocked = m.policy.BlockContextMenu
		}
	case BucketStrike:
		res := m.store.RegisterViolation(sig.At, m.policy.Cooldown, m.policy.MaxStrikes)
		v.Counted = res.Counted
		v.Strikes = res.Strikes
		v.AutoSubmit = res.AutoSubmit
		if res.Counted && !res.AutoSubmit {
			v.Warn = true
			v.Final = res.Strikes == m.policy.MaxStrikes-1
		}
	}
	return v
}

// MaxStrikes returns the configured limit.
func (m *Monitor) MaxStrikes() int { return m.policy.MaxStrikes }
