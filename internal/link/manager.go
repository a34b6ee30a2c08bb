package link

import (
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/ayusman/gripctl/internal/protocol"
)

// Default link settings.
const (
	DefaultBaud         = 115200
	DefaultWriteTimeout = 200 * time.Millisecond
	// DefaultSettleDelay covers the reset an STM32 board goes through when
	// the host opens its USB serial port.
	DefaultSettleDelay = 2 * time.Second
)

// Sender delivers commands to the actuator.
type Sender interface {
	Send(cmd protocol.Command) error
}

// Config holds link manager options.
type Config struct {
	// WriteTimeout bounds every write. Zero means DefaultWriteTimeout.
	WriteTimeout time.Duration

	// SettleDelay is waited after a successful open before the link is
	// reported as connected.
	SettleDelay time.Duration

	// Opener opens the OS port. Nil means SerialOpener.
	Opener Opener

	// OnStateChange is called after every state transition, outside the
	// manager's lock. err is the cause for Failed transitions.
	OnStateChange func(state State, err error)
}

// Manager owns the single serial connection to the actuator. It never
// retries on its own; reconnecting is left to the caller via Reopen.
type Manager struct {
	config Config

	mu      sync.Mutex
	port    Port
	state   State
	name    string
	baud    int
	lastErr error
	closed  bool
}

// NewManager creates a Manager in the Disconnected state.
func NewManager(config Config) *Manager {
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	if config.Opener == nil {
		config.Opener = SerialOpener(time.Second)
	}
	return &Manager{
		config: config,
		state:  Disconnected,
	}
}

// Open connects to the named port. An empty name selects dry mode: the link
// stays Disconnected and every Send is a no-op. Open failures leave the link
// Failed and are returned, but never panic or exit; the caller keeps running
// without an actuator.
func (m *Manager) Open(name string, baud int) (State, error) {
	if baud <= 0 {
		baud = DefaultBaud
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Disconnected, ErrClosed
	}
	m.name = name
	m.baud = baud
	if name == "" {
		m.mu.Unlock()
		log.Println("No serial port configured, running without actuator")
		return Disconnected, nil
	}
	if m.state == Connected || m.state == Connecting {
		state := m.state
		m.mu.Unlock()
		return state, nil
	}
	m.setStateLocked(Connecting, nil)
	m.mu.Unlock()
	m.notify(Connecting, nil)

	port, err := m.config.Opener(name, baud)
	if err != nil {
		err = classifyOpenError(name, err)
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return Disconnected, ErrClosed
		}
		m.setStateLocked(Failed, err)
		m.mu.Unlock()
		m.notify(Failed, err)
		return Failed, err
	}

	if m.config.SettleDelay > 0 {
		time.Sleep(m.config.SettleDelay)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		port.Close()
		return Disconnected, ErrClosed
	}
	m.port = port
	m.setStateLocked(Connected, nil)
	m.mu.Unlock()
	m.notify(Connected, nil)

	log.Printf("Connected to actuator on %s at %d baud", name, baud)
	return Connected, nil
}

// Reopen drops any current handle and opens the last configured port again.
func (m *Manager) Reopen() (State, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Disconnected, ErrClosed
	}
	name, baud := m.name, m.baud
	m.releaseLocked()
	m.setStateLocked(Disconnected, nil)
	m.mu.Unlock()

	return m.Open(name, baud)
}

// Send writes cmd to the actuator. When the link is not Connected it does
// nothing and returns nil. A write that errors or outlasts WriteTimeout moves
// the link to Failed and the error is returned; there is no retry.
func (m *Manager) Send(cmd protocol.Command) error {
	m.mu.Lock()
	if m.state != Connected || m.port == nil {
		m.mu.Unlock()
		return nil
	}
	port := m.port
	m.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		n, err := port.Write(cmd.Payload)
		if err == nil && n < len(cmd.Payload) {
			err = io.ErrShortWrite
		}
		done <- err
	}()

	timer := time.NewTimer(m.config.WriteTimeout)
	defer timer.Stop()

	var err error
	select {
	case err = <-done:
		if err != nil {
			err = fmt.Errorf("write %s: %w", cmd, err)
		}
	case <-timer.C:
		err = fmt.Errorf("write %s after %s: %w", cmd, m.config.WriteTimeout, ErrWriteTimeout)
	}

	if err != nil {
		m.fail(port, err)
		return err
	}
	return nil
}

// fail moves the link to Failed if port is still the active handle.
func (m *Manager) fail(port Port, err error) {
	m.mu.Lock()
	if m.port != port {
		m.mu.Unlock()
		return
	}
	// Closing also unblocks a writer stuck in the driver.
	m.releaseLocked()
	m.setStateLocked(Failed, err)
	m.mu.Unlock()
	m.notify(Failed, err)
}

// Close releases the port. It is safe to call more than once and from any
// shutdown path.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	err := m.releaseLocked()
	changed := m.state != Disconnected
	m.setStateLocked(Disconnected, nil)
	m.mu.Unlock()

	if changed {
		m.notify(Disconnected, nil)
	}
	return err
}

// State returns the current link state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError returns the cause of the most recent failure, if any.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Port returns the configured port name.
func (m *Manager) Port() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name
}

func (m *Manager) releaseLocked() error {
	if m.port == nil {
		return nil
	}
	err := m.port.Close()
	m.port = nil
	return err
}

func (m *Manager) setStateLocked(state State, err error) {
	m.state = state
	if err != nil {
		m.lastErr = err
	}
}

func (m *Manager) notify(state State, err error) {
	if m.config.OnStateChange != nil {
		m.config.OnStateChange(state, err)
	}
}
