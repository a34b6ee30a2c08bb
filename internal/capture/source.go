package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/gripctl/internal/detector"
)

// ErrSourceExhausted means the source will produce no more samples: the
// camera went away or a replay reached its end.
var ErrSourceExhausted = errors.New("landmark source exhausted")

// Sample is one tick of input. Hand is nil when no hand was seen. Frame is
// the camera image the hand came from, or nil for sources without images.
type Sample struct {
	Hand  *detector.HandLandmarks
	Frame *gocv.Mat
}

// Close releases the sample's frame.
func (s Sample) Close() {
	if s.Frame != nil {
		s.Frame.Close()
	}
}

// Source yields landmark samples, one per call, blocking until the next one
// is ready. Transient capture or detection failures are reported as an
// absent hand rather than an error.
type Source interface {
	Open() error
	Next(ctx context.Context) (Sample, error)
	Close() error
}

// SourceConfig configures a CameraSource.
type SourceConfig struct {
	// Mirror flips frames horizontally before detection, for a selfie view.
	Mirror bool

	// MaxReadFailures is how many consecutive frame read failures mean the
	// camera is gone.
	MaxReadFailures int
}

// DefaultSourceConfig returns the camera source defaults.
func DefaultSourceConfig() SourceConfig {
	return SourceConfig{
		Mirror:          true,
		MaxReadFailures: 30,
	}
}

// CameraSource reads frames from a Camera and runs them through a Detector,
// keeping only the best hand.
type CameraSource struct {
	camera   Camera
	detector detector.Detector
	config   SourceConfig
	failures int
}

// NewCameraSource creates a CameraSource. It owns both camera and detector
// and closes them in Close.
func NewCameraSource(camera Camera, det detector.Detector, config SourceConfig) *CameraSource {
	if config.MaxReadFailures <= 0 {
		config.MaxReadFailures = DefaultSourceConfig().MaxReadFailures
	}
	return &CameraSource{
		camera:   camera,
		detector: det,
		config:   config,
	}
}

// Open opens the camera.
func (s *CameraSource) Open() error {
	if err := s.camera.Open(); err != nil {
		return fmt.Errorf("open camera: %w", err)
	}
	s.failures = 0
	return nil
}

// Next implements Source.
func (s *CameraSource) Next(ctx context.Context) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}

	frame, err := s.camera.ReadFrame()
	if err != nil {
		if errors.Is(err, ErrCameraNotOpen) || errors.Is(err, ErrNoMoreFrames) {
			return Sample{}, fmt.Errorf("%w: %v", ErrSourceExhausted, err)
		}
		s.failures++
		if s.failures >= s.config.MaxReadFailures {
			return Sample{}, fmt.Errorf("%w: %d consecutive read failures: %v", ErrSourceExhausted, s.failures, err)
		}
		log.Printf("Error reading frame: %v", err)
		return Sample{}, nil
	}
	s.failures = 0

	if s.config.Mirror && !frame.Empty() {
		mirrored := gocv.NewMat()
		gocv.Flip(*frame, &mirrored, 1)
		frame.Close()
		frame = &mirrored
	}

	hands, err := s.detector.Detect(frame)
	if err != nil {
		log.Printf("Error detecting hands: %v", err)
		return Sample{Frame: frame}, nil
	}

	return Sample{
		Hand:  detector.SelectHand(hands),
		Frame: frame,
	}, nil
}

// Close releases the camera and the detector.
func (s *CameraSource) Close() error {
	camErr := s.camera.Close()
	detErr := s.detector.Close()
	return errors.Join(camErr, detErr)
}

// ReplaySource plays back a fixed list of hands, one per tick. A nil entry
// is a tick with no hand. After the last entry it reports ErrSourceExhausted.
type ReplaySource struct {
	hands    []*detector.HandLandmarks
	interval time.Duration
	index    int
	open     bool
}

// NewReplaySource creates a ReplaySource. A positive interval paces the
// playback like a camera would.
func NewReplaySource(hands []*detector.HandLandmarks, interval time.Duration) *ReplaySource {
	return &ReplaySource{
		hands:    hands,
		interval: interval,
	}
}

// LoadReplay reads a recording made of landmark helper output, one JSON line
// per frame, and returns the best hand per line.
func LoadReplay(r io.Reader) ([]*detector.HandLandmarks, error) {
	var hands []*detector.HandLandmarks

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}
		detected, err := detector.ParseResponse(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		hands = append(hands, detector.SelectHand(detected))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return hands, nil
}

// Open rewinds the replay.
func (s *ReplaySource) Open() error {
	s.index = 0
	s.open = true
	return nil
}

// Next implements Source.
func (s *ReplaySource) Next(ctx context.Context) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	if !s.open || s.index >= len(s.hands) {
		return Sample{}, ErrSourceExhausted
	}

	if s.interval > 0 {
		timer := time.NewTimer(s.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Sample{}, ctx.Err()
		case <-timer.C:
		}
	}

	hand := s.hands[s.index]
	s.index++
	return Sample{Hand: hand}, nil
}

// Close ends the replay.
func (s *ReplaySource) Close() error {
	s.open = false
	return nil
}
