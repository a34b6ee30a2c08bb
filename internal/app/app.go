// Package app runs the gripctl control loop: landmark samples in, debounced
// actuator commands out.
package app

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/gripctl/internal/capture"
	"github.com/ayusman/gripctl/internal/detector"
	"github.com/ayusman/gripctl/internal/gesture"
	"github.com/ayusman/gripctl/internal/link"
	"github.com/ayusman/gripctl/internal/store"
)

// Classifier names accepted by NewClassifier.
const (
	ClassifierRule     = "rule"
	ClassifierTemplate = "template"
)

// Startup retry defaults for opening the landmark source.
const (
	DefaultSourceRetries = 3
	DefaultSourceBackoff = 500 * time.Millisecond
)

var (
	// ErrAlreadyStarted is returned by a second call to Run.
	ErrAlreadyStarted = errors.New("control loop already started")
	// ErrUnknownClassifier is returned for an unsupported classifier name.
	ErrUnknownClassifier = errors.New("unknown classifier")
	// ErrNoHand is returned when a template is recorded with no hand in view.
	ErrNoHand = errors.New("no hand in view")
	// ErrNoJournal is returned when templates are recorded without a journal.
	ErrNoJournal = errors.New("no journal configured")
)

// RenderFunc receives every tick's frame, selected hand and raw gesture. It
// is for display only and cannot influence control. frame is nil for sources
// without images and hand is nil when none was detected.
type RenderFunc func(frame *gocv.Mat, hand *detector.HandLandmarks, g gesture.Gesture)

// Config holds the control loop's collaborators and policy.
type Config struct {
	Source     capture.Source
	Classifier gesture.Classifier

	// Link configures the serial link manager the app owns. Its
	// OnStateChange hook, if set, is still called.
	Link link.Config

	// Port and Baud are passed to Link.Open at startup. An empty Port runs
	// the loop in dry mode.
	Port string
	Baud int

	// Stabilizer tunes debouncing. The zero value means the defaults.
	Stabilizer gesture.StabilizerConfig

	// AsyncDispatch moves serial writes onto a latest-wins worker.
	AsyncDispatch bool

	// ReconnectInterval is the minimum time between reopen attempts while
	// the link is Failed. Zero disables reconnecting.
	ReconnectInterval time.Duration

	// SourceRetries and SourceBackoff control how often, and how patiently,
	// opening the source is retried at startup. Backoff doubles per attempt.
	SourceRetries int
	SourceBackoff time.Duration

	// Journal, if set, records the session and every dispatch.
	Journal *store.Store

	// ClassifierName is recorded with the session.
	ClassifierName string

	Render RenderFunc

	// Now is the loop's clock. Nil means time.Now.
	Now func() time.Time
}

// App is the control loop. All pipeline stages run on the goroutine that
// calls Run; status and subscribers may be used from any goroutine.
type App struct {
	config     Config
	classifier gesture.Classifier
	stabilizer *gesture.Stabilizer
	link       *link.Manager
	dispatcher *link.Dispatcher

	mu          sync.RWMutex
	started     bool
	status      Status
	subscribers []func(Event)
	sessionID   string
	lastHand    *detector.HandLandmarks

	reconnecting  atomic.Bool
	lastReconnect time.Time
	reconnectWG   sync.WaitGroup
}

// New creates an App. Source is required; a nil Classifier means
// the rule classifier with the default fingertips.
func New(config Config) (*App, error) {
	if config.Source == nil {
		return nil, errors.New("app: source is required")
	}
	if config.Classifier == nil {
		config.Classifier = gesture.NewRuleClassifier()
		if config.ClassifierName == "" {
			config.ClassifierName = ClassifierRule
		}
	}
	if config.Baud <= 0 {
		config.Baud = link.DefaultBaud
	}
	if config.SourceRetries < 0 {
		config.SourceRetries = 0
	}
	if config.SourceBackoff <= 0 {
		config.SourceBackoff = DefaultSourceBackoff
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Stabilizer == (gesture.StabilizerConfig{}) {
		config.Stabilizer = gesture.DefaultStabilizerConfig()
	}

	a := &App{
		config:     config,
		classifier: config.Classifier,
		stabilizer: gesture.NewStabilizer(config.Stabilizer),
	}

	linkConfig := config.Link
	hook := linkConfig.OnStateChange
	linkConfig.OnStateChange = func(state link.State, err error) {
		a.linkChanged(state, err)
		if hook != nil {
			hook(state, err)
		}
	}
	a.link = link.NewManager(linkConfig)
	a.stabilizer.OnTrackingLost = a.trackingLost
	a.status = Status{
		Port:       config.Port,
		Classifier: config.ClassifierName,
		LinkState:  link.Disconnected.String(),
		Confirmed:  gesture.None,
		LastRaw:    gesture.None,
		Counts:     make(map[gesture.Gesture]uint64),
	}

	return a, nil
}

// NewClassifier builds the named classifier. The template classifier starts
// from the built-in Open and Fist poses and adds any templates saved in s.
func NewClassifier(name string, s *store.Store) (gesture.Classifier, error) {
	switch name {
	case "", ClassifierRule:
		return gesture.NewRuleClassifier(), nil
	case ClassifierTemplate:
		tc := gesture.NewTemplateClassifier(gesture.DefaultTemplates()...)
		if s != nil {
			n, err := LoadTemplates(tc, s)
			if err != nil {
				return nil, err
			}
			log.Printf("Loaded %d templates from database", n)
		}
		return tc, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownClassifier, name)
	}
}

// LoadTemplates adds every stored template to tc and returns how many were
// usable.
func LoadTemplates(tc *gesture.TemplateClassifier, s *store.Store) (int, error) {
	templates, err := storedTemplates(s)
	if err != nil {
		return 0, err
	}
	for _, t := range templates {
		tc.AddTemplate(t)
	}
	return len(templates), nil
}

// storedTemplates converts the usable templates in s for the classifier.
func storedTemplates(s *store.Store) ([]*gesture.Template, error) {
	templates, err := s.Templates().List()
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}

	var out []*gesture.Template
	for _, t := range templates {
		g := gesture.Gesture(t.Gesture)
		if !g.Actionable() {
			log.Printf("Skipping template %s with gesture %q", t.ID, t.Gesture)
			continue
		}
		if len(t.Landmarks) != detector.NumLandmarks {
			log.Printf("Skipping template %s: %d landmarks", t.ID, len(t.Landmarks))
			continue
		}
		tolerance := t.Tolerance
		if tolerance <= 0 {
			tolerance = gesture.DefaultTolerance
		}
		out = append(out, &gesture.Template{
			Gesture:   g,
			Landmarks: storeLandmarksToDetector(t.Landmarks),
			Tolerance: tolerance,
		})
	}

	return out, nil
}

// storeLandmarksToDetector converts stored landmarks to detector points,
// placing each by its landmark index.
func storeLandmarksToDetector(landmarks []store.Landmark) []detector.Point3D {
	points := make([]detector.Point3D, detector.NumLandmarks)
	for _, l := range landmarks {
		if l.Index < 0 || l.Index >= detector.NumLandmarks {
			continue
		}
		points[l.Index] = detector.Point3D{X: l.X, Y: l.Y, Z: l.Z}
	}
	return points
}

// SaveTemplate normalizes hand and stores it as a template for g.
func SaveTemplate(s *store.Store, g gesture.Gesture, hand *detector.HandLandmarks, tolerance float64) (*store.Template, error) {
	if !g.Actionable() {
		return nil, fmt.Errorf("template for %s: gesture is not actionable", g)
	}
	if !hand.Validate() {
		return nil, errors.New("template hand has invalid landmarks")
	}

	normalized := hand.Normalize()
	t := &store.Template{
		Gesture:   string(g),
		Tolerance: tolerance,
	}
	for i, p := range normalized.Points {
		t.Landmarks = append(t.Landmarks, store.Landmark{Index: i, X: p.X, Y: p.Y, Z: p.Z})
	}

	if err := s.Templates().Create(t); err != nil {
		return nil, fmt.Errorf("save template: %w", err)
	}
	return t, nil
}

// LatestHand returns a copy of the hand seen on the most recent tick, or nil
// when that tick had none.
func (a *App) LatestHand() *detector.HandLandmarks {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.lastHand == nil {
		return nil
	}
	h := *a.lastHand
	return &h
}

// RecordTemplate saves the hand currently in view as a template for g and
// reloads the running template classifier, if one is in use.
func (a *App) RecordTemplate(g gesture.Gesture, tolerance float64) (*store.Template, error) {
	if a.config.Journal == nil {
		return nil, ErrNoJournal
	}
	hand := a.LatestHand()
	if hand == nil {
		return nil, ErrNoHand
	}
	if tolerance <= 0 {
		tolerance = gesture.DefaultTolerance
	}

	t, err := SaveTemplate(a.config.Journal, g, hand, tolerance)
	if err != nil {
		return nil, err
	}
	log.Printf("Recorded %s template %s", g, t.ID)

	if err := a.ReloadTemplates(); err != nil {
		return t, err
	}
	return t, nil
}

// ReloadTemplates rebuilds the template classifier from the built-in poses
// and the journal. It does nothing for other classifiers.
func (a *App) ReloadTemplates() error {
	tc, ok := a.classifier.(*gesture.TemplateClassifier)
	if !ok || a.config.Journal == nil {
		return nil
	}

	stored, err := storedTemplates(a.config.Journal)
	if err != nil {
		return err
	}
	tc.SetTemplates(append(gesture.DefaultTemplates(), stored...)...)
	log.Printf("Template classifier reloaded with %d stored templates", len(stored))
	return nil
}

// Link returns the serial link manager.
func (a *App) Link() *link.Manager {
	return a.link
}

// Subscribe registers fn for loop events. fn is called on the loop goroutine
// (or the dispatch worker) and must not block.
func (a *App) Subscribe(fn func(Event)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subscribers = append(a.subscribers, fn)
}

func (a *App) publish(e Event) {
	a.mu.RLock()
	subs := a.subscribers
	a.mu.RUnlock()

	for _, fn := range subs {
		fn(e)
	}
}

func (a *App) trackingLost(prev gesture.Gesture, tick uint64) {
	log.Printf("Hand lost for %s, releasing confirmed %s at tick %d", a.config.Stabilizer.LossTimeout, prev, tick)

	a.mu.Lock()
	a.status.Confirmed = gesture.None
	a.mu.Unlock()

	a.publish(Event{
		Type:    EventTrackingLost,
		Gesture: prev,
		Tick:    tick,
		Time:    a.config.Now(),
	})
}
