package gesture

import (
	"math"
	"sync"
	"testing"

	"github.com/ayusman/gripctl/internal/detector"
)

func TestTemplateClassifier_Classify(t *testing.T) {
	c := NewTemplateClassifier(DefaultTemplates()...)

	tests := []struct {
		name string
		hand func() *detector.HandLandmarks
		want Gesture
	}{
		{"absent", func() *detector.HandLandmarks { return nil }, None},
		{"open palm", func() *detector.HandLandmarks { h := detector.OpenPalmLandmarks(); return &h }, Open},
		{"fist", func() *detector.HandLandmarks { h := detector.FistLandmarks(); return &h }, Fist},
		{"pointing", func() *detector.HandLandmarks { h := detector.PointingLandmarks(); return &h }, Unknown},
		{"nan", func() *detector.HandLandmarks {
			h := detector.FistLandmarks()
			h.Points[detector.Wrist].X = math.NaN()
			return &h
		}, Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Classify(tt.hand()); got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestTemplateClassifier_TranslationInvariant(t *testing.T) {
	c := NewTemplateClassifier(DefaultTemplates()...)

	h := detector.OpenPalmLandmarks()
	for i := range h.Points {
		h.Points[i].X -= 0.2
		h.Points[i].Y += 0.1
	}

	if got := c.Classify(&h); got != Open {
		t.Errorf("Classify() = %s, want %s", got, Open)
	}
}

func TestTemplateClassifier_Match(t *testing.T) {
	c := NewTemplateClassifier()
	fist := detector.FistLandmarks()
	c.AddTemplate(NewTemplate(Fist, &fist, 0.5))
	c.AddTemplate(NewTemplate(Fist, &fist, 0.8))

	input := detector.FistLandmarks()
	matches := c.Match(&input)

	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].Score < 0.9 {
		t.Errorf("expected high score for identical pose, got %f", matches[0].Score)
	}
	if matches[0].Distance > 0.1 {
		t.Errorf("expected low distance for identical pose, got %f", matches[0].Distance)
	}
	for i := 1; i < len(matches); i++ {
		if matches[i].Score > matches[i-1].Score {
			t.Error("matches should be sorted by score descending")
		}
	}

	if got := c.Match(nil); len(got) != 0 {
		t.Errorf("expected no matches for nil input, got %d", len(got))
	}
}

func TestTemplateClassifier_AddRemove(t *testing.T) {
	c := NewTemplateClassifier(DefaultTemplates()...)
	if c.Len() != 2 {
		t.Fatalf("expected 2 templates, got %d", c.Len())
	}

	c.AddTemplate(nil)
	if c.Len() != 2 {
		t.Errorf("nil template should be ignored, got %d", c.Len())
	}

	c.RemoveTemplates(Open)
	if c.Len() != 1 {
		t.Errorf("expected 1 template after removal, got %d", c.Len())
	}

	open := detector.OpenPalmLandmarks()
	if got := c.Classify(&open); got != Unknown {
		t.Errorf("Classify() = %s after removing Open, want %s", got, Unknown)
	}

	c.RemoveTemplates(Gesture("missing"))
	if c.Len() != 1 {
		t.Errorf("removing unknown gesture changed count to %d", c.Len())
	}
}

func TestTemplateClassifier_SetTemplates(t *testing.T) {
	c := NewTemplateClassifier(DefaultTemplates()...)
	fist := detector.FistLandmarks()
	open := detector.OpenPalmLandmarks()

	// Relabel the fist pose as Open.
	c.SetTemplates(NewTemplate(Open, &fist, DefaultTolerance), nil)
	if c.Len() != 1 {
		t.Fatalf("expected 1 template, got %d", c.Len())
	}
	if got := c.Classify(&fist); got != Open {
		t.Errorf("Classify(fist) = %s, want %s", got, Open)
	}
	if got := c.Classify(&open); got != Unknown {
		t.Errorf("Classify(open) = %s, want %s", got, Unknown)
	}

	t.Run("concurrent with classify", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				c.Classify(&open)
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				c.SetTemplates(DefaultTemplates()...)
			}
		}()
		wg.Wait()

		if got := c.Classify(&open); got != Open {
			t.Errorf("Classify(open) = %s after reset, want %s", got, Open)
		}
	})
}

func TestEuclideanDistance(t *testing.T) {
	a := []detector.Point3D{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 1, Z: 1}}
	if dist := euclideanDistance(a, a); dist != 0 {
		t.Errorf("expected distance 0 for identical points, got %f", dist)
	}

	c := []detector.Point3D{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}}
	d := []detector.Point3D{{X: 0, Y: 0, Z: 0}, {X: 2, Y: 0, Z: 0}}
	if dist := euclideanDistance(c, d); dist != 1.0 {
		t.Errorf("expected distance 1.0, got %f", dist)
	}

	if dist := euclideanDistance(nil, nil); dist != 0 {
		t.Errorf("expected distance 0 for empty slices, got %f", dist)
	}
}
