package link

import (
	"errors"
	"io/fs"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/ayusman/gripctl/internal/gesture"
	"github.com/ayusman/gripctl/internal/protocol"
)

func TestManager_DryMode(t *testing.T) {
	m := NewManager(Config{Opener: MockOpener(errors.New("should not be called"))})
	defer m.Close()

	state, err := m.Open("", 0)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if state != Disconnected {
		t.Errorf("state = %s, want %s", state, Disconnected)
	}

	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := m.Send(protocol.Encode(gesture.Open)); err != nil {
			t.Fatalf("Send() in dry mode error = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("dry mode sends took %s", elapsed)
	}
}

func TestManager_SendBeforeOpen(t *testing.T) {
	m := NewManager(Config{})
	if err := m.Send(protocol.Encode(gesture.Fist)); err != nil {
		t.Errorf("Send() on unopened link error = %v", err)
	}
	if m.State() != Disconnected {
		t.Errorf("state = %s, want %s", m.State(), Disconnected)
	}
}

func TestManager_OpenFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"device absent", &fs.PathError{Op: "open", Path: "/dev/ttyUSB9", Err: syscall.ENOENT}, ErrDeviceAbsent},
		{"permission denied", &fs.PathError{Op: "open", Path: "/dev/ttyUSB0", Err: syscall.EACCES}, ErrPermissionDenied},
		{"port busy", &fs.PathError{Op: "open", Path: "/dev/ttyUSB0", Err: syscall.EBUSY}, ErrPortBusy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(Config{Opener: MockOpener(tt.err)})
			defer m.Close()

			state, err := m.Open("/dev/ttyUSB0", DefaultBaud)
			if state != Failed {
				t.Errorf("state = %s, want %s", state, Failed)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
			if !errors.Is(m.LastError(), tt.want) {
				t.Errorf("LastError() = %v, want %v", m.LastError(), tt.want)
			}

			// Degraded mode: sends still succeed.
			if err := m.Send(protocol.Encode(gesture.Open)); err != nil {
				t.Errorf("Send() after failed open error = %v", err)
			}
		})
	}

	t.Run("unclassified error", func(t *testing.T) {
		m := NewManager(Config{Opener: MockOpener(errors.New("boom"))})
		_, err := m.Open("COM3", DefaultBaud)
		if err == nil || errors.Is(err, ErrDeviceAbsent) {
			t.Errorf("expected generic error, got %v", err)
		}
	})
}

func TestManager_Send(t *testing.T) {
	port := NewMockPort()
	m := NewManager(Config{Opener: MockOpener(nil, port)})
	defer m.Close()

	state, err := m.Open("/dev/ttyACM0", 0)
	if err != nil || state != Connected {
		t.Fatalf("Open() = %s, %v", state, err)
	}

	for _, g := range []gesture.Gesture{gesture.Open, gesture.Fist} {
		if err := m.Send(protocol.Encode(g)); err != nil {
			t.Fatalf("Send(%s) error = %v", g, err)
		}
	}

	if got := port.Written(); got != "OPEN\nFIST\n" {
		t.Errorf("written = %q, want %q", got, "OPEN\nFIST\n")
	}
}

func TestManager_WriteError(t *testing.T) {
	port := NewMockPort()
	m := NewManager(Config{Opener: MockOpener(nil, port)})
	defer m.Close()
	m.Open("/dev/ttyACM0", DefaultBaud)

	ioErr := errors.New("input/output error")
	port.SetError(ioErr)

	err := m.Send(protocol.Encode(gesture.Open))
	if !errors.Is(err, ioErr) {
		t.Fatalf("Send() error = %v, want %v", err, ioErr)
	}
	if m.State() != Failed {
		t.Errorf("state = %s, want %s", m.State(), Failed)
	}
	if !port.Closed() {
		t.Error("failed port should be closed")
	}

	// No retry: later sends are no-ops until the caller reopens.
	if err := m.Send(protocol.Encode(gesture.Fist)); err != nil {
		t.Errorf("Send() after failure error = %v", err)
	}
}

func TestManager_WriteTimeout(t *testing.T) {
	port := NewMockPort()
	port.Block()

	m := NewManager(Config{
		WriteTimeout: 20 * time.Millisecond,
		Opener:       MockOpener(nil, port),
	})
	defer m.Close()
	m.Open("/dev/ttyACM0", DefaultBaud)

	start := time.Now()
	err := m.Send(protocol.Encode(gesture.Fist))
	elapsed := time.Since(start)

	if !errors.Is(err, ErrWriteTimeout) {
		t.Fatalf("Send() error = %v, want ErrWriteTimeout", err)
	}
	if elapsed > time.Second {
		t.Errorf("Send() blocked for %s", elapsed)
	}
	if m.State() != Failed {
		t.Errorf("state = %s, want %s", m.State(), Failed)
	}
	if !port.Closed() {
		t.Error("stalled port should be closed")
	}
}

func TestManager_Reopen(t *testing.T) {
	first, second := NewMockPort(), NewMockPort()
	m := NewManager(Config{Opener: MockOpener(nil, first, second)})
	defer m.Close()

	m.Open("/dev/ttyACM0", DefaultBaud)
	first.SetError(errors.New("unplugged"))
	m.Send(protocol.Encode(gesture.Open))

	state, err := m.Reopen()
	if err != nil || state != Connected {
		t.Fatalf("Reopen() = %s, %v", state, err)
	}
	if err := m.Send(protocol.Encode(gesture.Open)); err != nil {
		t.Fatalf("Send() after reopen error = %v", err)
	}
	if got := second.Written(); got != "OPEN\n" {
		t.Errorf("second port written = %q", got)
	}
	if m.Port() != "/dev/ttyACM0" {
		t.Errorf("Port() = %q", m.Port())
	}
}

func TestManager_Close(t *testing.T) {
	port := NewMockPort()
	m := NewManager(Config{Opener: MockOpener(nil, port)})
	m.Open("/dev/ttyACM0", DefaultBaud)

	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !port.Closed() {
		t.Error("port should be closed")
	}
	if m.State() != Disconnected {
		t.Errorf("state = %s, want %s", m.State(), Disconnected)
	}
	if err := m.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, err := m.Open("/dev/ttyACM0", DefaultBaud); !errors.Is(err, ErrClosed) {
		t.Errorf("Open() after Close error = %v, want ErrClosed", err)
	}
	if _, err := m.Reopen(); !errors.Is(err, ErrClosed) {
		t.Errorf("Reopen() after Close error = %v, want ErrClosed", err)
	}
}

func TestManager_CloseDuringOpen(t *testing.T) {
	tests := []struct {
		name    string
		openErr error
	}{
		{"open fails", errors.New("no such device")},
		{"open succeeds", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			started := make(chan struct{})
			release := make(chan struct{})
			port := NewMockPort()

			m := NewManager(Config{
				Opener: func(name string, baud int) (Port, error) {
					close(started)
					<-release
					if tt.openErr != nil {
						return nil, tt.openErr
					}
					return port, nil
				},
			})

			type result struct {
				state State
				err   error
			}
			done := make(chan result, 1)
			go func() {
				state, err := m.Open("/dev/ttyACM0", DefaultBaud)
				done <- result{state, err}
			}()

			<-started
			if err := m.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}
			close(release)
			res := <-done

			if !errors.Is(res.err, ErrClosed) || res.state != Disconnected {
				t.Errorf("Open() = %s, %v, want %s, ErrClosed", res.state, res.err, Disconnected)
			}
			if m.State() != Disconnected {
				t.Errorf("state after Close = %s, want %s", m.State(), Disconnected)
			}
			if m.LastError() != nil {
				t.Errorf("LastError() = %v, want nil", m.LastError())
			}
			if tt.openErr == nil && !port.Closed() {
				t.Error("late port should be closed")
			}
		})
	}
}

func TestManager_StateChanges(t *testing.T) {
	var mu sync.Mutex
	var states []State

	port := NewMockPort()
	m := NewManager(Config{
		Opener: MockOpener(nil, port),
		OnStateChange: func(s State, err error) {
			mu.Lock()
			defer mu.Unlock()
			states = append(states, s)
		},
	})

	m.Open("/dev/ttyACM0", DefaultBaud)
	port.SetError(errors.New("gone"))
	m.Send(protocol.Encode(gesture.Open))
	m.Close()

	want := []State{Connecting, Connected, Failed, Disconnected}
	mu.Lock()
	defer mu.Unlock()
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("state %d = %s, want %s", i, states[i], want[i])
		}
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		Disconnected: "disconnected",
		Connecting:   "connecting",
		Connected:    "connected",
		Failed:       "failed",
		State(42):    "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
