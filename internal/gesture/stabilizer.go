package gesture

import "time"

// DefaultConfirmThreshold is the number of consecutive ticks a gesture must
// hold before it is confirmed.
const DefaultConfirmThreshold = 3

// DefaultLossTimeout is how long the hand may be missing before the
// confirmed gesture is dropped back to None.
const DefaultLossTimeout = time.Second

// StabilizedEvent is a confirmed gesture transition.
type StabilizedEvent struct {
	Gesture Gesture
	Tick    uint64
}

// StabilizerConfig configures a Stabilizer.
type StabilizerConfig struct {
	// ConfirmThreshold is the run length needed to confirm a gesture.
	// Values below 1 are treated as 1.
	ConfirmThreshold int

	// LossTimeout is how long None must persist before the confirmed state
	// resets to None. Zero or negative disables the reset.
	LossTimeout time.Duration
}

// DefaultStabilizerConfig returns the default debounce settings.
func DefaultStabilizerConfig() StabilizerConfig {
	return StabilizerConfig{
		ConfirmThreshold: DefaultConfirmThreshold,
		LossTimeout:      DefaultLossTimeout,
	}
}

// Stabilizer debounces the raw per-tick gesture stream. A gesture is
// confirmed once it has been seen on ConfirmThreshold consecutive ticks, and
// an event is emitted only when the confirmed gesture changes.
//
// Losing the hand for LossTimeout clears the confirmed gesture without an
// event, so the next sustained pose is dispatched again even if it matches
// the one held before tracking was lost.
type Stabilizer struct {
	config    StabilizerConfig
	confirmed Gesture
	candidate Gesture
	runLength int
	tick      uint64
	noneSince time.Time

	// OnTrackingLost is called when the loss timeout clears a confirmed gesture.
	OnTrackingLost func(prev Gesture, tick uint64)
}

// NewStabilizer creates a Stabilizer in its initial state: nothing confirmed.
func NewStabilizer(config StabilizerConfig) *Stabilizer {
	if config.ConfirmThreshold < 1 {
		config.ConfirmThreshold = 1
	}
	return &Stabilizer{
		config:    config,
		confirmed: None,
		candidate: None,
	}
}

// Update feeds the gesture observed at now and returns the event emitted on
// this tick, if any.
func (s *Stabilizer) Update(g Gesture, now time.Time) (StabilizedEvent, bool) {
	s.tick++

	if g == s.candidate {
		s.runLength++
	} else {
		s.candidate = g
		s.runLength = 1
	}

	if g == None {
		s.trackLoss(now)
		return StabilizedEvent{}, false
	}
	s.noneSince = time.Time{}

	if s.runLength >= s.config.ConfirmThreshold && g != s.confirmed && g.Actionable() {
		s.confirmed = g
		return StabilizedEvent{Gesture: g, Tick: s.tick}, true
	}

	return StabilizedEvent{}, false
}

func (s *Stabilizer) trackLoss(now time.Time) {
	if s.noneSince.IsZero() {
		s.noneSince = now
	}
	if s.config.LossTimeout <= 0 || s.confirmed == None {
		return
	}
	if now.Sub(s.noneSince) >= s.config.LossTimeout {
		prev := s.confirmed
		s.confirmed = None
		if s.OnTrackingLost != nil {
			s.OnTrackingLost(prev, s.tick)
		}
	}
}

// Confirmed returns the currently confirmed gesture.
func (s *Stabilizer) Confirmed() Gesture {
	return s.confirmed
}

// Tick returns the number of updates processed.
func (s *Stabilizer) Tick() uint64 {
	return s.tick
}

// Reset returns the stabilizer to its initial state. The tick counter is kept.
func (s *Stabilizer) Reset() {
	s.confirmed = None
	s.candidate = None
	s.runLength = 0
	s.noneSince = time.Time{}
}
