package app

import (
	"log"
	"maps"
	"time"

	"github.com/ayusman/gripctl/internal/gesture"
	"github.com/ayusman/gripctl/internal/link"
)

// EventType names what an Event reports.
type EventType string

const (
	// EventGesture is published when the raw per-tick gesture changes.
	EventGesture EventType = "gesture"
	// EventDispatch is published for every confirmed transition sent to the link.
	EventDispatch EventType = "dispatch"
	// EventLink is published on every link state change.
	EventLink EventType = "link"
	// EventTrackingLost is published when a lost hand releases the confirmed gesture.
	EventTrackingLost EventType = "tracking_lost"
)

// Event is a notification from the control loop to status surfaces.
type Event struct {
	Type      EventType       `json:"type"`
	Gesture   gesture.Gesture `json:"gesture,omitempty"`
	Tick      uint64          `json:"tick,omitempty"`
	LinkState string          `json:"link_state,omitempty"`
	Sent      bool            `json:"sent,omitempty"`
	Error     string          `json:"error,omitempty"`
	Time      time.Time       `json:"time"`
}

// Status is a point-in-time snapshot of the control loop.
type Status struct {
	Running      bool                       `json:"running"`
	SessionID    string                     `json:"session_id,omitempty"`
	Port         string                     `json:"port"`
	Classifier   string                     `json:"classifier"`
	LinkState    string                     `json:"link_state"`
	LinkError    string                     `json:"link_error,omitempty"`
	Confirmed    gesture.Gesture            `json:"confirmed"`
	LastRaw      gesture.Gesture            `json:"last_raw"`
	Ticks        uint64                     `json:"ticks"`
	Events       uint64                     `json:"events"`
	SendFailures uint64                     `json:"send_failures"`
	Dropped      uint64                     `json:"dropped"`
	Reconnects   uint64                     `json:"reconnects"`
	Counts       map[gesture.Gesture]uint64 `json:"counts"`
	StartedAt    time.Time                  `json:"started_at"`
}

// Dry reports whether the loop runs without an actuator port.
func (s Status) Dry() bool {
	return s.Port == ""
}

// Status returns a snapshot of the loop's state and counters.
func (a *App) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()

	st := a.status
	st.Counts = maps.Clone(a.status.Counts)
	if a.dispatcher != nil {
		st.Dropped = a.dispatcher.Dropped()
	}
	return st
}

func (a *App) linkChanged(state link.State, err error) {
	e := Event{
		Type:      EventLink,
		LinkState: state.String(),
		Time:      a.config.Now(),
	}

	a.mu.Lock()
	a.status.LinkState = state.String()
	if err != nil {
		a.status.LinkError = err.Error()
		e.Error = err.Error()
	} else if state == link.Connected {
		a.status.LinkError = ""
	}
	a.mu.Unlock()

	if state == link.Failed {
		log.Printf("Actuator link failed: %v", err)
	}
	a.publish(e)
}
