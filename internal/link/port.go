package link

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"syscall"
	"time"

	"github.com/tarm/serial"
)

// Port is the part of a serial port the manager needs.
type Port interface {
	io.WriteCloser
}

// Opener opens the named port at the given baud rate.
type Opener func(name string, baud int) (Port, error)

// SerialOpener returns an Opener backed by github.com/tarm/serial.
// readTimeout bounds reads; the manager bounds writes itself.
func SerialOpener(readTimeout time.Duration) Opener {
	return func(name string, baud int) (Port, error) {
		p, err := serial.OpenPort(&serial.Config{
			Name:        name,
			Baud:        baud,
			ReadTimeout: readTimeout,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// classifyOpenError tags an open failure with the matching sentinel error so
// callers can tell an unplugged device from a permissions problem.
func classifyOpenError(name string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENXIO), errors.Is(err, syscall.ENODEV):
		return fmt.Errorf("open %s: %w: %w", name, ErrDeviceAbsent, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("open %s: %w: %w", name, ErrPermissionDenied, err)
	case errors.Is(err, syscall.EBUSY):
		return fmt.Errorf("open %s: %w: %w", name, ErrPortBusy, err)
	default:
		return fmt.Errorf("open %s: %w", name, err)
	}
}
