// Package connectivity tracks whether the remote store is reachable and
// whether the host is in the foreground, and broadcasts the transitions.
package connectivity

import (
	"sync"
	"time"

	"github.com/nabhalearn/edusync/internal/logging"
)

// EventType names a transition.
type EventType string

const (
	BecameOnline  EventType = "online"
	BecameOffline EventType = "offline"
	BecameVisible EventType = "visible"
)

// Event is one observed transition.
type Event struct {
	Type EventType
	At   time.Time
}

// subscriberBuffer bounds how far a slow subscriber may lag. Once full, the
// oldest pending event makes room for the newest, so the latest transition
// always arrives.
const subscriberBuffer = 16

// Monitor holds the online and visibility signals. Setters only emit an
// event when the value actually changes.
type Monitor struct {
	mu      sync.RWMutex
	online  bool
	visible bool
	subs    map[int]chan Event
	nextSub int
	now     func() time.Time
	log     *logging.Logger
}

// NewMonitor creates a visible monitor with the given initial online state.
func NewMonitor(online bool, log *logging.Logger) *Monitor {
	if log == nil {
		log = logging.Get()
	}
	return &Monitor{
		online:  online,
		visible: true,
		subs:    make(map[int]chan Event),
		now:     time.Now,
		log:     log.Named("connectivity"),
	}
}

// Online reports the current connectivity signal.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Visible reports whether the host is in the foreground.
func (m *Monitor) Visible() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.visible
}

// SetOnline records the connectivity signal. It returns true when the value
// changed.
func (m *Monitor) SetOnline(online bool) bool {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online
	ev := Event{Type: BecameOffline, At: m.now()}
	if online {
		ev.Type = BecameOnline
	}
	m.broadcast(ev)
	m.mu.Unlock()

	m.log.Info("Connectivity changed", map[string]interface{}{"online": online})
	return true
}

// SetVisible records the foreground signal. Regaining visibility emits
// BecameVisible; losing it is silent.
func (m *Monitor) SetVisible(visible bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.visible == visible {
		return false
	}
	m.visible = visible
	if visible {
		m.broadcast(Event{Type: BecameVisible, At: m.now()})
	}
	return true
}

// Subscribe returns a channel receiving every later event and a function
// that unsubscribes and closes it.
func (m *Monitor) Subscribe() (<-chan Event, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan Event, subscriberBuffer)
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			close(ch)
		})
	}
}

// broadcast must be called with mu held. Only broadcast sends, so after
// evicting one event from a full channel the send cannot block.
func (m *Monitor) broadcast(ev Event) {
	for _, ch := range m.subs {
		select {
		case ch <- ev:
			continue
		default:
		}
		select {
		case old := <-ch:
			m.log.Debug("Collapsing connectivity events for slow subscriber", map[string]interface{}{
				"evicted": old.Type,
				"event":   ev.Type,
			})
		default:
		}
		ch <- ev
	}
}
