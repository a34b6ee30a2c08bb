package link

import (
	"sync"

	"github.com/ayusman/gripctl/internal/protocol"
)

// Dispatcher moves serial writes off the caller's goroutine. It holds at
// most one pending command: a newer command replaces one that has not been
// written yet, because a stale gesture command is worse than a dropped one.
type Dispatcher struct {
	sender  Sender
	onError func(cmd protocol.Command, err error)

	mailbox chan protocol.Command
	mu      sync.Mutex
	closed  bool
	dropped uint64
	wg      sync.WaitGroup
}

// NewDispatcher starts a worker that forwards submitted commands to sender.
// onError, if set, is called from the worker for every failed send.
func NewDispatcher(sender Sender, onError func(cmd protocol.Command, err error)) *Dispatcher {
	d := &Dispatcher{
		sender:  sender,
		onError: onError,
		mailbox: make(chan protocol.Command, 1),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Submit queues cmd without blocking, replacing any command still waiting.
// It reports false once the dispatcher is closed.
func (d *Dispatcher) Submit(cmd protocol.Command) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false
	}

	for {
		select {
		case d.mailbox <- cmd:
			return true
		default:
		}
		select {
		case <-d.mailbox:
			d.dropped++
		default:
		}
	}
}

// Dropped returns how many queued commands were replaced before being sent.
func (d *Dispatcher) Dropped() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Close stops accepting commands, lets the worker write whatever is still
// queued and waits for it to exit.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.mailbox)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for cmd := range d.mailbox {
		if err := d.sender.Send(cmd); err != nil && d.onError != nil {
			d.onError(cmd, err)
		}
	}
}
