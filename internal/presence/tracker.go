package presence

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"courier/pkg/interfaces"
	"courier/pkg/types"
)

// Event describes a single online/offline transition.
type Event struct {
	UserID      string
	Status      string
	OnlineUsers []string
}

// Listener receives transition events.
// Listeners run synchronously on the goroutine that caused the transition;
// they may read the tracker but must not call Add or Remove.
type Listener func(Event)

type subscription struct {
	id       uint64
	listener Listener
}

// Tracker maps identities to their live connections and emits a transition
// event on every true online/offline edge.
// ARCHITECTURAL DISCOVERY: The reverse index (connection -> identity) is kept
// under the same lock as the primary map so the two never disagree. Neither
// map owns the connection; the transport layer does.
type Tracker struct {
	mu          sync.RWMutex
	connections map[string]map[interfaces.Connection]struct{} // identity -> live connections
	owners      map[interfaces.Connection]string              // connection -> identity

	// emitMu serializes mutation+emission so listeners see edges in order
	emitMu sync.Mutex

	listenersMu sync.RWMutex
	listeners   []subscription
	nextID      uint64

	logger zerolog.Logger
}

// NewTracker creates an empty tracker
func NewTracker(logger zerolog.Logger) *Tracker {
	return &Tracker{
		connections: make(map[string]map[interfaces.Connection]struct{}),
		owners:      make(map[interfaces.Connection]string),
		logger:      logger.With().Str("component", "presence").Logger(),
	}
}

// Add registers conn for identity. The identity's first connection emits "online".
// A connection already tracked under another identity is moved.
func (t *Tracker) Add(identity string, conn interfaces.Connection) {
	if conn == nil {
		return
	}

	t.emitMu.Lock()
	defer t.emitMu.Unlock()

	var events []Event

	t.mu.Lock()
	if previous, exists := t.owners[conn]; exists && previous != identity {
		if event, wentOffline := t.detachLocked(previous, conn); wentOffline {
			events = append(events, event)
		}
	}

	sockets := t.connections[identity]
	if sockets == nil {
		sockets = make(map[interfaces.Connection]struct{})
		t.connections[identity] = sockets
	}
	_, already := sockets[conn]
	sockets[conn] = struct{}{}
	t.owners[conn] = identity

	if !already && len(sockets) == 1 {
		events = append(events, Event{
			UserID:      identity,
			Status:      types.PresenceOnline,
			OnlineUsers: t.onlineLocked(),
		})
	}
	t.mu.Unlock()

	for _, event := range events {
		t.emit(event)
	}
}

// Remove unregisters conn. Removing an identity's last connection emits
// "offline". Unknown connections are ignored.
func (t *Tracker) Remove(conn interfaces.Connection) {
	if conn == nil {
		return
	}

	t.emitMu.Lock()
	defer t.emitMu.Unlock()

	t.mu.Lock()
	identity, exists := t.owners[conn]
	if !exists {
		t.mu.Unlock()
		return
	}
	event, wentOffline := t.detachLocked(identity, conn)
	t.mu.Unlock()

	if wentOffline {
		t.emit(event)
	}
}

// detachLocked removes conn from identity; caller holds t.mu.
func (t *Tracker) detachLocked(identity string, conn interfaces.Connection) (Event, bool) {
	delete(t.owners, conn)

	sockets, exists := t.connections[identity]
	if !exists {
		return Event{}, false
	}
	if _, tracked := sockets[conn]; !tracked {
		return Event{}, false
	}

	delete(sockets, conn)
	if len(sockets) > 0 {
		return Event{}, false
	}

	// TECHNICAL DISCOVERY: Clean up empty sets so online == non-empty set
	delete(t.connections, identity)
	return Event{
		UserID:      identity,
		Status:      types.PresenceOffline,
		OnlineUsers: t.onlineLocked(),
	}, true
}

// Sockets returns a snapshot of identity's live connections
func (t *Tracker) Sockets(identity string) []interfaces.Connection {
	t.mu.RLock()
	defer t.mu.RUnlock()

	sockets := t.connections[identity]
	result := make([]interfaces.Connection, 0, len(sockets))
	for conn := range sockets {
		result = append(result, conn)
	}
	return result
}

// IsOnline reports whether identity has at least one live connection
func (t *Tracker) IsOnline(identity string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.connections[identity]) > 0
}

// OnlineIdentities returns the online identities, sorted
func (t *Tracker) OnlineIdentities() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.onlineLocked()
}

func (t *Tracker) onlineLocked() []string {
	users := make([]string, 0, len(t.connections))
	for identity := range t.connections {
		users = append(users, identity)
	}
	sort.Strings(users)
	return users
}

// OwnerOf returns the identity owning conn
func (t *Tracker) OwnerOf(conn interfaces.Connection) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	identity, exists := t.owners[conn]
	return identity, exists
}

// ConnectionCount returns the number of tracked connections across all identities
func (t *Tracker) ConnectionCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.owners)
}

// OnChange subscribes listener to transitions and returns its unsubscribe func.
func (t *Tracker) OnChange(listener Listener) func() {
	t.listenersMu.Lock()
	t.nextID++
	id := t.nextID
	t.listeners = append(t.listeners, subscription{id: id, listener: listener})
	t.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.listenersMu.Lock()
			defer t.listenersMu.Unlock()
			for i, sub := range t.listeners {
				if sub.id == id {
					t.listeners = append(t.listeners[:i:i], t.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// emit fans event out to every listener, isolating panics per listener.
func (t *Tracker) emit(event Event) {
	t.listenersMu.RLock()
	subs := make([]subscription, len(t.listeners))
	copy(subs, t.listeners)
	t.listenersMu.RUnlock()

	for _, sub := range subs {
		t.notify(sub.listener, event)
	}
}

func (t *Tracker) notify(listener Listener, event Event) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error().
				Str("user_id", event.UserID).
				Str("status", event.Status).
				Err(fmt.Errorf("%v", r)).
				Msg("presence listener failed")
		}
	}()
	listener(event)
}
