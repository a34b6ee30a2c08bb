package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ayusman/gripctl/internal/capture"
	"github.com/ayusman/gripctl/internal/detector"
	"github.com/ayusman/gripctl/internal/gesture"
	"github.com/ayusman/gripctl/internal/link"
	"github.com/ayusman/gripctl/internal/protocol"
	"github.com/ayusman/gripctl/internal/store"
)

// Run drives the control loop until ctx is cancelled or the source runs
// out, both of which return nil. It returns an error only when the source
// cannot be opened or fails outright. The link, the dispatcher and the
// source are released on every return path. Run may be called once.
//
// Per tick:
// 1. Stop if ctx is done
// 2. Start a reconnect attempt in the background if the link has failed
// 3. Read the next sample
// 4. Classify and stabilize
// 5. On a confirmed transition, encode and send, then journal
// 6. Hand the frame to the render sink
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return ErrAlreadyStarted
	}
	a.started = true
	a.status.Running = true
	a.status.StartedAt = a.config.Now()
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.status.Running = false
		a.mu.Unlock()
	}()

	a.startSession()
	defer a.endSession()

	// Deferred first so it runs after the dispatcher has drained.
	defer a.closeLink()

	if _, err := a.link.Open(a.config.Port, a.config.Baud); err != nil {
		log.Printf("Actuator unavailable, continuing without it: %v", err)
	}
	a.lastReconnect = a.config.Now()

	if a.config.AsyncDispatch {
		d := link.NewDispatcher(a.link, a.dispatchFailed)
		a.mu.Lock()
		a.dispatcher = d
		a.mu.Unlock()
		defer d.Close()
	}

	if err := a.OpenSource(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer func() {
		if err := a.config.Source.Close(); err != nil {
			log.Printf("Error closing source: %v", err)
		}
	}()

	log.Println("Control loop started")
	for {
		if ctx.Err() != nil {
			log.Println("Stop requested, shutting down control loop")
			return nil
		}

		a.maybeReconnect()

		sample, err := a.config.Source.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, capture.ErrSourceExhausted):
				log.Printf("Landmark source finished: %v", err)
				return nil
			case ctx.Err() != nil:
				log.Println("Stop requested, shutting down control loop")
				return nil
			default:
				return fmt.Errorf("read landmark source: %w", err)
			}
		}

		a.step(sample)
		sample.Close()
	}
}

// OpenSource opens the configured source, retrying with exponential backoff
// up to SourceRetries times.
func (a *App) OpenSource(ctx context.Context) error {
	backoff := a.config.SourceBackoff
	attempts := a.config.SourceRetries + 1

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = a.config.Source.Open(); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		log.Printf("Opening landmark source failed (attempt %d/%d): %v; retrying in %s", attempt, attempts, err, backoff)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}

	return fmt.Errorf("open landmark source after %d attempts: %w", attempts, err)
}

func (a *App) step(sample capture.Sample) {
	now := a.config.Now()
	g := a.classifier.Classify(sample.Hand)
	event, confirmed := a.stabilizer.Update(g, now)
	tick := a.stabilizer.Tick()

	var hand *detector.HandLandmarks
	if sample.Hand != nil {
		h := *sample.Hand
		hand = &h
	}

	a.mu.Lock()
	a.lastHand = hand
	a.status.Ticks = tick
	a.status.Counts[g]++
	changed := g != a.status.LastRaw
	a.status.LastRaw = g
	if confirmed {
		a.status.Confirmed = event.Gesture
		a.status.Events++
	}
	a.mu.Unlock()

	if changed {
		a.publish(Event{Type: EventGesture, Gesture: g, Tick: tick, Time: now})
	}
	if confirmed {
		a.dispatch(event, now)
	}
	if a.config.Render != nil {
		a.config.Render(sample.Frame, sample.Hand, g)
	}
}

func (a *App) dispatch(event gesture.StabilizedEvent, now time.Time) {
	cmd := protocol.Encode(event.Gesture)
	state := a.link.State()

	entry := &store.Dispatch{
		Tick:      event.Tick,
		Gesture:   string(event.Gesture),
		LinkState: state.String(),
		CreatedAt: now,
	}

	if a.dispatcher != nil {
		entry.Sent = a.dispatcher.Submit(cmd) && state == link.Connected
	} else if err := a.link.Send(cmd); err != nil {
		a.countSendFailure()
		entry.Error = err.Error()
		entry.LinkState = a.link.State().String()
	} else {
		entry.Sent = state == link.Connected
	}

	if entry.Sent {
		log.Printf("Tick %d: sent %s", event.Tick, cmd)
	} else {
		log.Printf("Tick %d: %s not delivered (link %s)", event.Tick, cmd, entry.LinkState)
	}

	a.record(entry)
	a.publish(Event{
		Type:      EventDispatch,
		Gesture:   event.Gesture,
		Tick:      event.Tick,
		LinkState: entry.LinkState,
		Sent:      entry.Sent,
		Error:     entry.Error,
		Time:      now,
	})
}

// dispatchFailed is the async dispatcher's error callback.
func (a *App) dispatchFailed(cmd protocol.Command, err error) {
	a.countSendFailure()
	log.Printf("Async send of %s failed: %v", cmd, err)
	a.publish(Event{
		Type:      EventDispatch,
		Gesture:   cmd.Gesture,
		LinkState: a.link.State().String(),
		Error:     err.Error(),
		Time:      a.config.Now(),
	})
}

func (a *App) countSendFailure() {
	a.mu.Lock()
	a.status.SendFailures++
	a.mu.Unlock()
}

// maybeReconnect starts at most one background Reopen per
// ReconnectInterval while the link is Failed, so the settle delay never
// stalls a tick.
func (a *App) maybeReconnect() {
	if a.config.ReconnectInterval <= 0 || a.reconnecting.Load() {
		return
	}
	if a.link.State() != link.Failed {
		return
	}
	now := a.config.Now()
	if now.Sub(a.lastReconnect) < a.config.ReconnectInterval {
		return
	}
	a.lastReconnect = now

	a.reconnecting.Store(true)
	a.reconnectWG.Add(1)
	go func() {
		defer a.reconnectWG.Done()
		defer a.reconnecting.Store(false)

		a.mu.Lock()
		a.status.Reconnects++
		a.mu.Unlock()

		state, err := a.link.Reopen()
		if err != nil {
			if !errors.Is(err, link.ErrClosed) {
				log.Printf("Reconnect to %s failed: %v", a.config.Port, err)
			}
			return
		}
		log.Printf("Reconnected to %s, link %s", a.config.Port, state)
	}()
}

func (a *App) closeLink() {
	if err := a.link.Close(); err != nil {
		log.Printf("Error closing actuator link: %v", err)
	}
	a.reconnectWG.Wait()
}

func (a *App) startSession() {
	if a.config.Journal == nil {
		return
	}

	sess := &store.Session{
		Port:       a.config.Port,
		Baud:       a.config.Baud,
		Classifier: a.config.ClassifierName,
		StartedAt:  a.config.Now(),
	}
	if err := a.config.Journal.Sessions().Start(sess); err != nil {
		log.Printf("Failed to start journal session: %v", err)
		return
	}

	a.mu.Lock()
	a.sessionID = sess.ID
	a.status.SessionID = sess.ID
	a.mu.Unlock()
}

func (a *App) endSession() {
	a.mu.RLock()
	id := a.sessionID
	a.mu.RUnlock()

	if a.config.Journal == nil || id == "" {
		return
	}
	if err := a.config.Journal.Sessions().End(id, a.config.Now()); err != nil {
		log.Printf("Failed to close journal session: %v", err)
	}
}

func (a *App) record(entry *store.Dispatch) {
	a.mu.RLock()
	id := a.sessionID
	a.mu.RUnlock()

	if a.config.Journal == nil || id == "" {
		return
	}
	entry.SessionID = id
	if err := a.config.Journal.Dispatches().Record(entry); err != nil {
		log.Printf("Failed to journal dispatch at tick %d: %v", entry.Tick, err)
	}
}
