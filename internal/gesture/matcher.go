package gesture

import (
	"math"
	"sort"
	"sync"

	"github.com/ayusman/gripctl/internal/detector"
)

// DefaultTolerance is the summed landmark distance, in normalized hand units,
// under which a template counts as a match.
const DefaultTolerance = 1.5

// Template is a reference pose for one gesture.
type Template struct {
	Gesture   Gesture            // Gesture reported on a match
	Landmarks []detector.Point3D // Normalized landmarks
	Tolerance float64            // Maximum distance for a match
}

// Match represents a matching result between input and a template.
type Match struct {
	Template *Template // The matched template
	Score    float64   // Match score (0-1, higher is better)
	Distance float64   // Euclidean distance between input and template
}

// TemplateClassifier labels a hand with the gesture of the nearest reference
// template. It is an alternative to RuleClassifier for users whose hand
// posture does not fit the fingertip rule. Templates may be changed while
// another goroutine classifies.
type TemplateClassifier struct {
	mu        sync.RWMutex
	templates []*Template
}

// NewTemplateClassifier creates a TemplateClassifier with the given templates.
func NewTemplateClassifier(templates ...*Template) *TemplateClassifier {
	c := &TemplateClassifier{
		templates: make([]*Template, 0, len(templates)),
	}
	for _, t := range templates {
		c.AddTemplate(t)
	}
	return c
}

// DefaultTemplates builds Open and Fist templates from the reference poses.
func DefaultTemplates() []*Template {
	open := detector.OpenPalmLandmarks()
	fist := detector.FistLandmarks()
	return []*Template{
		NewTemplate(Open, &open, DefaultTolerance),
		NewTemplate(Fist, &fist, DefaultTolerance),
	}
}

// NewTemplate normalizes hand and wraps it as a template for g.
func NewTemplate(g Gesture, hand *detector.HandLandmarks, tolerance float64) *Template {
	normalized := hand.Normalize()
	if normalized == nil {
		return nil
	}
	return &Template{
		Gesture:   g,
		Landmarks: normalized.Points[:],
		Tolerance: tolerance,
	}
}

// AddTemplate adds a gesture template to the classifier.
func (c *TemplateClassifier) AddTemplate(t *Template) {
	if t == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.templates = append(c.templates, t)
}

// SetTemplates replaces every template at once.
func (c *TemplateClassifier) SetTemplates(templates ...*Template) {
	kept := make([]*Template, 0, len(templates))
	for _, t := range templates {
		if t != nil {
			kept = append(kept, t)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.templates = kept
}

// RemoveTemplates removes every template for g.
func (c *TemplateClassifier) RemoveTemplates(g Gesture) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.templates[:0]
	for _, t := range c.templates {
		if t.Gesture != g {
			kept = append(kept, t)
		}
	}
	c.templates = kept
}

// Len returns the number of templates.
func (c *TemplateClassifier) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.templates)
}

// Match finds matching templates for the given hand landmarks.
// Returns matches sorted by score in descending order (best matches first).
func (c *TemplateClassifier) Match(hand *detector.HandLandmarks) []Match {
	if hand == nil {
		return nil
	}

	normalized := hand.Normalize()
	if normalized == nil {
		return nil
	}
	input := normalized.Points[:]

	c.mu.RLock()
	defer c.mu.RUnlock()

	var matches []Match
	for _, template := range c.templates {
		distance := euclideanDistance(input, template.Landmarks)
		if distance > template.Tolerance {
			continue
		}
		matches = append(matches, Match{
			Template: template,
			Score:    1.0 / (1.0 + distance),
			Distance: distance,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	return matches
}

// Classify implements Classifier.
func (c *TemplateClassifier) Classify(hand *detector.HandLandmarks) Gesture {
	if hand == nil {
		return None
	}
	if !hand.Validate() {
		return Unknown
	}

	matches := c.Match(hand)
	if len(matches) == 0 {
		return Unknown
	}
	return matches[0].Template.Gesture
}

// euclideanDistance sums the distances between corresponding points.
func euclideanDistance(a, b []detector.Point3D) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	minLen := len(a)
	if len(b) < minLen {
		minLen = len(b)
	}

	var totalDist float64
	for i := 0; i < minLen; i++ {
		dx := a[i].X - b[i].X
		dy := a[i].Y - b[i].Y
		dz := a[i].Z - b[i].Z
		totalDist += math.Sqrt(dx*dx + dy*dy + dz*dz)
	}

	return totalDist
}
