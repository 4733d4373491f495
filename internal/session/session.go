package session

import (
	"sync"
	"time"

	"collab-sync-server/internal/crdt"
	"collab-sync-server/internal/domain"
)

// Session is the live, in-memory instantiation of a document. It exclusively
// owns its replica and awareness state for its whole lifetime; every access
// goes through the session mutex, so all replica operations are totally
// ordered even though different sessions proceed in parallel.
type Session struct {
	id         string
	documentID uint64

	// ready is closed once the cold load finished (or failed); loadErr is
	// only read after ready is closed.
	ready   chan struct{}
	loadErr error

	// mu is the per-session single-writer boundary: replica, awareness,
	// metadata and the connection set are only touched while holding it.
	mu sync.Mutex

	replica      crdt.Replica
	awareness    *crdt.Awareness
	meta         *domain.DocumentMetadata
	conns        map[string]connInfo
	lastActivity time.Time
	closed       bool
	graceTimer   *time.Timer
}

// connInfo is what the session remembers about an attached connection. The
// role here is the role at join time; writes re-resolve against current
// metadata on every submit.
type connInfo struct {
	userID     uint64
	roleAtJoin domain.Role
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) DocumentID() uint64 {
	return s.documentID
}

// otherConns returns the ids of every attached connection except origin.
func (s *Session) otherConns(origin string) []string {
	targets := make([]string, 0, len(s.conns))
	for id := range s.conns {
		if id != origin {
			targets = append(targets, id)
		}
	}
	return targets
}

func (s *Session) allConns() []string {
	targets := make([]string, 0, len(s.conns))
	for id := range s.conns {
		targets = append(targets, id)
	}
	return targets
}
