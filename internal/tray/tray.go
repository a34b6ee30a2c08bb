// Package tray provides a system tray icon showing the actuator link and
// the last commanded gesture, with a quit item.
package tray

import (
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/gripctl/internal/app"
)

// Tray represents the system tray application.
type Tray struct {
	onStatus func()
	onQuit   func()
	mu       sync.RWMutex

	linkState   string
	lastGesture string

	// Menu items stored for later updates
	menuLink        *systray.MenuItem
	menuLastGesture *systray.MenuItem
}

// New creates a new Tray with the link shown as disconnected.
func New() *Tray {
	return &Tray{
		linkState: "disconnected",
	}
}

// OnStatus sets the callback for the status menu item.
func (t *Tray) OnStatus(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStatus = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until Quit is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit removes the tray icon and makes Run return.
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) onReady() {
	systray.SetTitle("gripctl")
	systray.SetTooltip("gripctl gesture control")

	t.mu.Lock()
	t.menuLink = systray.AddMenuItem(linkLabel(t.linkState), "Actuator link state")
	t.menuLink.Disable()
	t.menuLastGesture = systray.AddMenuItem(lastLabel(t.lastGesture), "Last commanded gesture")
	t.menuLastGesture.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuStatus := systray.AddMenuItem("Status...", "Show status")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Stop gripctl")

	go func() {
		for {
			select {
			case <-menuStatus.ClickedCh:
				t.handleStatus()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

func (t *Tray) handleStatus() {
	t.mu.RLock()
	callback := t.onStatus
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback()
	}

	systray.Quit()
}

// SetLinkState updates the link line in the menu.
func (t *Tray) SetLinkState(state string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.linkState = state
	if t.menuLink != nil {
		t.menuLink.SetTitle(linkLabel(state))
	}
}

// SetLastGesture updates the last gesture display in the menu.
func (t *Tray) SetLastGesture(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastGesture = name
	if t.menuLastGesture != nil {
		t.menuLastGesture.SetTitle(lastLabel(name))
	}
}

// Handle updates the menu from a control loop event. Register it with
// App.Subscribe.
func (t *Tray) Handle(e app.Event) {
	switch e.Type {
	case app.EventLink:
		t.SetLinkState(e.LinkState)
	case app.EventDispatch:
		if e.Tick > 0 {
			t.SetLastGesture(e.Gesture.String())
		}
	}
}

// Snapshot returns what the menu currently shows.
func (t *Tray) Snapshot() (linkState, lastGesture string) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.linkState, t.lastGesture
}

func linkLabel(state string) string {
	return "Link: " + state
}

func lastLabel(name string) string {
	if name == "" {
		return "Last: none"
	}
	return "Last: " + name
}
