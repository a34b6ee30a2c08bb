package gesture

import "github.com/ayusman/gripctl/internal/detector"

// DefaultFingertips are the landmarks the rule classifier compares with the
// wrist. The thumb is left out since it folds sideways.
var DefaultFingertips = []int{
	detector.IndexTip,
	detector.MiddleTip,
	detector.RingTip,
	detector.PinkyTip,
}

// RuleClassifier labels a hand by where its fingertips sit relative to the
// wrist: all above is Open, all below is Fist, anything else is Unknown.
type RuleClassifier struct {
	tips []int
}

// NewRuleClassifier creates a RuleClassifier over the given fingertip
// landmark indices. With no indices it tracks DefaultFingertips.
func NewRuleClassifier(tips ...int) *RuleClassifier {
	if len(tips) == 0 {
		tips = DefaultFingertips
	}
	tracked := make([]int, 0, len(tips))
	for _, t := range tips {
		if t > detector.Wrist && t < detector.NumLandmarks {
			tracked = append(tracked, t)
		}
	}
	if len(tracked) == 0 {
		tracked = DefaultFingertips
	}
	return &RuleClassifier{tips: tracked}
}

// Classify implements Classifier.
func (c *RuleClassifier) Classify(hand *detector.HandLandmarks) Gesture {
	if hand == nil {
		return None
	}
	if !hand.Validate() {
		return Unknown
	}

	wristY := hand.Points[detector.Wrist].Y
	above, below := 0, 0
	for _, tip := range c.tips {
		y := hand.Points[tip].Y
		switch {
		case y < wristY:
			above++
		case y > wristY:
			below++
		}
	}

	switch {
	case above == len(c.tips):
		return Open
	case below == len(c.tips):
		return Fist
	default:
		return Unknown
	}
}
