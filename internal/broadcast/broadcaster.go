package broadcast

import (
	"github.com/rs/zerolog"
)

// Sender delivers a frame to one connection. Implementations must not
// block: a slow or gone connection reports false and is skipped, its
// catch-up happens through the full-state fetch on reconnect.
type Sender interface {
	SendUpdate(connID string, update []byte) bool
	SendAwareness(connID string, update []byte) bool
}

// Broadcaster fans accepted updates out to the other participants of a
// session. Delivery is best-effort, at most once per connection per call.
type Broadcaster struct {
	sender Sender
	log    zerolog.Logger
}

func New(sender Sender, log zerolog.Logger) *Broadcaster {
	return &Broadcaster{sender: sender, log: log}
}

func (b *Broadcaster) Update(docID uint64, targets []string, origin string, update []byte) {
	for _, connID := range targets {
		if connID == origin {
			continue
		}
		if !b.sender.SendUpdate(connID, update) {
			b.log.Debug().
				Uint64("document_id", docID).
				Str("connection_id", connID).
				Msg("skipped update for unreachable connection")
		}
	}
}

func (b *Broadcaster) Awareness(docID uint64, targets []string, origin string, update []byte) {
	for _, connID := range targets {
		if connID == origin {
			continue
		}
		if !b.sender.SendAwareness(connID, update) {
			b.log.Debug().
				Uint64("document_id", docID).
				Str("connection_id", connID).
				Msg("skipped awareness for unreachable connection")
		}
	}
}
