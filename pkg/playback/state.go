// ABOUTME: Player state machine values and synchronous listener registry
// ABOUTME: Listeners are notified in registration order on the calling goroutine
package playback

import "fmt"

// PlayerState is the externally visible playback state
type PlayerState int

const (
	StateIdle PlayerState = iota
	StateLoading
	StatePlaying
	StateStopping
)

func (s PlayerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Listener receives every state transition
type Listener func(PlayerState)

// Listeners is an ordered set of state listeners
type Listeners struct {
	nextID  uint64
	entries []listenerEntry
}

type listenerEntry struct {
	id uint64
	fn Listener
}

// Add registers fn and returns a function that removes it
func (l *Listeners) Add(fn Listener) (unsubscribe func()) {
	l.nextID++
	id := l.nextID
	l.entries = append(l.entries, listenerEntry{id: id, fn: fn})

	return func() {
		for i, e := range l.entries {
			if e.id == id {
				l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
				return
			}
		}
	}
}

// Len returns the number of registered listeners
func (l *Listeners) Len() int {
	return len(l.entries)
}

// Notify calls every listener with state. Listeners added or removed during
// notification take effect from the next call.
func (l *Listeners) Notify(state PlayerState) {
	snapshot := append([]listenerEntry(nil), l.entries...)
	for _, e := range snapshot {
		e.fn(state)
	}
}
