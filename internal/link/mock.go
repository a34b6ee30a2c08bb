package link

import (
	"errors"
	"strings"
	"sync"
)

// ErrPortClosed is returned by MockPort writes after Close.
var ErrPortClosed = errors.New("port closed")

// MockPort is an in-memory Port for tests. Writes can be made to fail or to
// block until Release is called.
type MockPort struct {
	mu      sync.Mutex
	written strings.Builder
	writes  int
	err     error
	block   chan struct{}
	closeCh chan struct{}
	closed  bool
}

// NewMockPort creates an open MockPort.
func NewMockPort() *MockPort {
	return &MockPort{closeCh: make(chan struct{})}
}

// SetError makes every following write fail with err.
func (p *MockPort) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Block makes following writes wait until Release or Close.
func (p *MockPort) Block() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.block = make(chan struct{})
}

// Release unblocks writes held by Block.
func (p *MockPort) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.block != nil {
		close(p.block)
		p.block = nil
	}
}

// Write implements io.Writer.
func (p *MockPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	block, closeCh := p.block, p.closeCh
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-closeCh:
			return 0, ErrPortClosed
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrPortClosed
	}
	if p.err != nil {
		return 0, p.err
	}
	p.writes++
	p.written.Write(b)
	return len(b), nil
}

// Close implements io.Closer.
func (p *MockPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.closeCh)
	}
	return nil
}

// Closed reports whether Close was called.
func (p *MockPort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Written returns everything written so far.
func (p *MockPort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

// Lines returns the written data split into command lines.
func (p *MockPort) Lines() []string {
	s := strings.TrimSuffix(p.Written(), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// MockOpener returns an Opener that hands out ports in order, then fails
// with err once they run out. A nil err with no ports left opens a fresh
// MockPort.
func MockOpener(err error, ports ...*MockPort) Opener {
	var mu sync.Mutex
	return func(name string, baud int) (Port, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(ports) > 0 {
			p := ports[0]
			ports = ports[1:]
			return p, nil
		}
		if err != nil {
			return nil, err
		}
		return NewMockPort(), nil
	}
}
