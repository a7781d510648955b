package realtime

import (
	"log"
	"sync"
)

// ConnState is a connection's lifecycle state. CLOSED is terminal.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateActive
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateActive:
		return "ACTIVE"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Publisher delivers one event to every subscriber of a topic.
type Publisher interface {
	Publish(topic string, event any)
}

// Lifecycle tracks established connections and performs directory
// cleanup when they close. Close handling fires exactly once per
// connection id regardless of whether the close was graceful.
type Lifecycle struct {
	dir       *Directory
	publisher Publisher
	logger    *log.Logger

	mu    sync.Mutex
	conns map[string]Principal
}

// NewLifecycle creates a lifecycle listener over the given directory.
// The publisher carries the departure broadcasts.
func NewLifecycle(dir *Directory, publisher Publisher, logger *log.Logger) *Lifecycle {
	if logger == nil {
		logger = log.Default()
	}
	return &Lifecycle{
		dir:       dir,
		publisher: publisher,
		logger:    logger,
		conns:     make(map[string]Principal),
	}
}

// Established records an authenticated connection. The directory is
// not touched here; workspace joins happen only via explicit commands.
func (l *Lifecycle) Established(connID string, p Principal) {
	l.mu.Lock()
	l.conns[connID] = p
	l.mu.Unlock()
	l.logger.Printf("realtime: connection %s established for user %s", connID, p.ID)
}

// Principal returns the identity bound to an established connection.
func (l *Lifecycle) Principal(connID string) (Principal, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.conns[connID]
	return p, ok
}

// ConnCount returns the number of currently established connections.
func (l *Lifecycle) ConnCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}

// Closed purges a disconnected user from the directory and broadcasts
// USER_OFFLINE to each workspace the user was in. A second close for
// the same connection id is a no-op, as is a close for a connection
// that never completed authentication.
func (l *Lifecycle) Closed(connID string) {
	l.mu.Lock()
	p, ok := l.conns[connID]
	if ok {
		delete(l.conns, connID)
	}
	l.mu.Unlock()
	if !ok {
		return
	}

	workspaces := l.dir.RemoveUser(p.ID)
	l.logger.Printf("realtime: connection %s closed, user %s purged from %d workspaces", connID, p.ID, len(workspaces))

	if l.publisher == nil {
		return
	}
	for _, workspaceID := range workspaces {
		l.publisher.Publish(WorkspacePresenceTopic(workspaceID), PresenceEvent{
			Type:   UserOffline,
			UserID: p.ID,
		})
	}
}
