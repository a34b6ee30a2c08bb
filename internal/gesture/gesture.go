// Package gesture turns hand landmarks into discrete gestures and filters the
// per-frame gesture stream into confirmed transitions.
package gesture

import "github.com/ayusman/gripctl/internal/detector"

// Gesture is a classified hand pose.
type Gesture string

const (
	// None means no hand was seen this tick.
	None Gesture = "NONE"
	// Open is an open hand, all tracked fingers raised.
	Open Gesture = "OPEN"
	// Fist is a closed hand, all tracked fingers lowered.
	Fist Gesture = "FIST"
	// Unknown means a hand was seen but matched no pose.
	Unknown Gesture = "UNKNOWN"
)

// Actionable reports whether g may be turned into an actuator command.
func (g Gesture) Actionable() bool {
	return g == Open || g == Fist
}

func (g Gesture) String() string {
	return string(g)
}

// Classifier maps one landmark set to a gesture. A nil hand means nothing
// was detected. Implementations must be pure: no side effects and the same
// answer for the same input.
type Classifier interface {
	Classify(hand *detector.HandLandmarks) Gesture
}

// ClassifierFunc adapts a plain function to the Classifier interface.
type ClassifierFunc func(hand *detector.HandLandmarks) Gesture

// Classify calls f(hand).
func (f ClassifierFunc) Classify(hand *detector.HandLandmarks) Gesture {
	return f(hand)
}
