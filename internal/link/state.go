// Package link owns the serial connection to the actuator microcontroller.
package link

import "errors"

// State is the lifecycle state of the serial link.
type State int

const (
	// Disconnected means no port is open. Sends are silently dropped.
	Disconnected State = iota
	// Connecting means an open is in progress.
	Connecting
	// Connected means the port is open and writable.
	Connected
	// Failed means the last open or write failed.
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Errors reported by the link manager.
var (
	ErrDeviceAbsent     = errors.New("serial device not found")
	ErrPermissionDenied = errors.New("permission denied on serial device")
	ErrPortBusy         = errors.New("serial device already in use")
	ErrWriteTimeout     = errors.New("serial write timed out")
	ErrClosed           = errors.New("link manager closed")
)
