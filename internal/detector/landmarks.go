// Package detector provides hand landmark types and the adapters that turn
// camera frames into landmark sets.
package detector

import "math"

// Hand landmark indices following MediaPipe convention.
// See: https://developers.google.com/mediapipe/solutions/vision/hand_landmarker
const (
	Wrist        = 0
	ThumbCMC     = 1
	ThumbMCP     = 2
	ThumbIP      = 3
	ThumbTip     = 4
	IndexMCP     = 5
	IndexPIP     = 6
	IndexDIP     = 7
	IndexTip     = 8
	MiddleMCP    = 9
	MiddlePIP    = 10
	MiddleDIP    = 11
	MiddleTip    = 12
	RingMCP      = 13
	RingPIP      = 14
	RingDIP      = 15
	RingTip      = 16
	PinkyMCP     = 17
	PinkyPIP     = 18
	PinkyDIP     = 19
	PinkyTip     = 20
	NumLandmarks = 21
)

// HandConnections lists the landmark pairs joined when drawing a hand
// skeleton, following MediaPipe's hand topology.
var HandConnections = [][2]int{
	{Wrist, ThumbCMC}, {ThumbCMC, ThumbMCP}, {ThumbMCP, ThumbIP}, {ThumbIP, ThumbTip},
	{Wrist, IndexMCP}, {IndexMCP, IndexPIP}, {IndexPIP, IndexDIP}, {IndexDIP, IndexTip},
	{IndexMCP, MiddleMCP}, {MiddleMCP, MiddlePIP}, {MiddlePIP, MiddleDIP}, {MiddleDIP, MiddleTip},
	{MiddleMCP, RingMCP}, {RingMCP, RingPIP}, {RingPIP, RingDIP}, {RingDIP, RingTip},
	{RingMCP, PinkyMCP}, {Wrist, PinkyMCP}, {PinkyMCP, PinkyPIP}, {PinkyPIP, PinkyDIP},
	{PinkyDIP, PinkyTip},
}

// Coordinate bounds accepted by Validate. MediaPipe reports points slightly
// outside [0,1] when part of the hand leaves the frame, so the window is
// wider than the unit square.
const (
	MinCoord = -0.5
	MaxCoord = 1.5
	MaxDepth = 1.5
)

// Point3D represents a 3D point in normalized camera space.
// X grows to the right, Y grows downward.
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// HandLandmarks is one detected hand: the 21 MediaPipe landmarks plus the
// detector's handedness label and confidence.
type HandLandmarks struct {
	Points     [NumLandmarks]Point3D `json:"points"`
	Handedness string                `json:"handedness"` // "Left" or "Right"
	Score      float64               `json:"score"`      // handedness confidence, used to rank hands
}

// Valid reports whether every coordinate of p is finite and inside the
// accepted bounds.
func (p Point3D) Valid() bool {
	for _, v := range [...]float64{p.X, p.Y, p.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	if p.X < MinCoord || p.X > MaxCoord || p.Y < MinCoord || p.Y > MaxCoord {
		return false
	}
	return math.Abs(p.Z) <= MaxDepth
}

// Validate reports whether all landmarks hold sane coordinates.
func (h *HandLandmarks) Validate() bool {
	if h == nil {
		return false
	}
	for _, p := range h.Points {
		if !p.Valid() {
			return false
		}
	}
	return true
}

// distance3D calculates the Euclidean distance between two 3D points.
func distance3D(a, b Point3D) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	dz := a.Z - b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Normalize returns a copy of the hand translated so the wrist sits at the
// origin and scaled so the wrist to middle-MCP distance is 1.0.
func (h *HandLandmarks) Normalize() *HandLandmarks {
	if h == nil {
		return nil
	}

	normalized := &HandLandmarks{
		Handedness: h.Handedness,
		Score:      h.Score,
	}

	wrist := h.Points[Wrist]
	for i := 0; i < NumLandmarks; i++ {
		normalized.Points[i] = Point3D{
			X: h.Points[i].X - wrist.X,
			Y: h.Points[i].Y - wrist.Y,
			Z: h.Points[i].Z - wrist.Z,
		}
	}

	scale := distance3D(Point3D{}, normalized.Points[MiddleMCP])
	if scale < 1e-10 {
		return normalized
	}

	for i := 0; i < NumLandmarks; i++ {
		normalized.Points[i].X /= scale
		normalized.Points[i].Y /= scale
		normalized.Points[i].Z /= scale
	}

	return normalized
}

// SelectHand picks the single hand the pipeline acts on when several are
// detected: the one with the highest score. Score only ranks hands; the
// detector has already applied its confidence threshold, so every hand it
// returns is eligible. Returns nil for no hands.
func SelectHand(hands []HandLandmarks) *HandLandmarks {
	var best *HandLandmarks
	for i := range hands {
		h := &hands[i]
		if best == nil || h.Score > best.Score {
			best = h
		}
	}
	if best == nil {
		return nil
	}
	out := *best
	return &out
}
