// Package overlay shows the camera view with the tracked hand and the
// current gesture in a debug window.
package overlay

import (
	"image"
	"image/color"
	"runtime"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/gripctl/internal/detector"
	"github.com/ayusman/gripctl/internal/gesture"
)

// escKey is the WaitKey code for Escape.
const escKey = 27

// keyPollInterval is how often the window is polled for keys while no frame
// arrives, as with landmark replays.
const keyPollInterval = 30 * time.Millisecond

// Drawing colors. gocv takes RGBA and writes it as BGR.
var (
	LabelColor      = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	LandmarkColor   = color.RGBA{R: 255, G: 0, B: 0, A: 0}
	ConnectionColor = color.RGBA{R: 224, G: 224, B: 224, A: 0}
)

const (
	landmarkRadius  = 4
	connectionWidth = 2
)

// display is the part of a gocv window the overlay uses.
type display interface {
	IMShow(img gocv.Mat)
	WaitKey(delay int) int
	Close() error
}

type item struct {
	frame gocv.Mat
	hand  *detector.HandLandmarks
	label gesture.Gesture
}

// Overlay displays frames from its own OS-locked goroutine. Render hands
// frames over without blocking; a frame the window has not shown yet is
// replaced by a newer one.
type Overlay struct {
	open   func() display
	onExit func()

	frames chan item
	quit   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// New opens the window titled title. onExit is called once when Escape is
// pressed in it.
func New(title string, onExit func()) *Overlay {
	return newOverlay(func() display { return gocv.NewWindow(title) }, onExit)
}

func newOverlay(open func() display, onExit func()) *Overlay {
	o := &Overlay{
		open:   open,
		onExit: onExit,
		frames: make(chan item, 1),
		quit:   make(chan struct{}),
	}
	o.wg.Add(1)
	go o.run()
	return o
}

// Label returns the text drawn for g.
func Label(g gesture.Gesture) string {
	return "Gesture: " + g.String()
}

// Annotate draws the hand skeleton, if any, and the gesture label onto
// frame. Landmarks are normalized, so they are scaled to the frame size.
func Annotate(frame *gocv.Mat, hand *detector.HandLandmarks, g gesture.Gesture) {
	if hand != nil {
		cols, rows := frame.Cols(), frame.Rows()
		for _, c := range detector.HandConnections {
			a := pixel(hand.Points[c[0]], cols, rows)
			b := pixel(hand.Points[c[1]], cols, rows)
			gocv.Line(frame, a, b, ConnectionColor, connectionWidth)
		}
		for _, p := range hand.Points {
			gocv.Circle(frame, pixel(p, cols, rows), landmarkRadius, LandmarkColor, -1)
		}
	}
	gocv.PutText(frame, Label(g), image.Pt(10, 40), gocv.FontHersheySimplex, 1.0, LabelColor, 2)
}

func pixel(p detector.Point3D, cols, rows int) image.Point {
	return image.Pt(int(p.X*float64(cols)), int(p.Y*float64(rows)))
}

// Render queues a copy of frame and hand for display. Frames that are nil
// or empty are skipped.
func (o *Overlay) Render(frame *gocv.Mat, hand *detector.HandLandmarks, g gesture.Gesture) {
	if frame == nil || frame.Empty() {
		return
	}
	select {
	case <-o.quit:
		return
	default:
	}

	it := item{frame: frame.Clone(), label: g}
	if hand != nil {
		h := *hand
		it.hand = &h
	}
	for {
		select {
		case o.frames <- it:
			return
		default:
		}
		select {
		case old := <-o.frames:
			old.frame.Close()
		default:
		}
	}
}

// Close shuts the window down.
func (o *Overlay) Close() {
	o.once.Do(func() {
		close(o.quit)
		o.wg.Wait()
		for {
			select {
			case it := <-o.frames:
				it.frame.Close()
			default:
				return
			}
		}
	})
}

func (o *Overlay) run() {
	defer o.wg.Done()

	// HighGUI calls must stay on one OS thread.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	window := o.open()
	defer window.Close()

	ticker := time.NewTicker(keyPollInterval)
	defer ticker.Stop()

	exited := false
	pollKey := func() {
		if window.WaitKey(1) == escKey && !exited && o.onExit != nil {
			exited = true
			o.onExit()
		}
	}

	for {
		select {
		case <-o.quit:
			return
		case it := <-o.frames:
			Annotate(&it.frame, it.hand, it.label)
			window.IMShow(it.frame)
			it.frame.Close()
			pollKey()
		case <-ticker.C:
			pollKey()
		}
	}
}
