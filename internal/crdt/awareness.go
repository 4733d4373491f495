package crdt

import (
	"encoding/json"
)

// Awareness holds ephemeral presence state (name, color, cursor) for the
// connections attached to one session. Entries carry a per-connection clock;
// an entry only replaces an older one, and a nil state with a newer clock
// removes the connection. Nothing here is persisted.
//
// Not safe for concurrent use: the session registry serializes all access
// alongside replica operations.
type Awareness struct {
	entries map[string]awarenessEntry
}

type awarenessEntry struct {
	ConnID string          `json:"conn_id"`
	Clock  int64           `json:"clock"`
	State  json.RawMessage `json:"state"`
}

func NewAwareness() *Awareness {
	return &Awareness{entries: make(map[string]awarenessEntry)}
}

// Apply merges an awareness update. origin is logged by callers, the merge
// itself does not care who sent it.
func (a *Awareness) Apply(update []byte) error {
	var entries []awarenessEntry
	if err := json.Unmarshal(update, &entries); err != nil {
		return ErrRejected
	}

	for _, e := range entries {
		if e.ConnID == "" {
			return ErrRejected
		}
	}

	for _, e := range entries {
		if existing, ok := a.entries[e.ConnID]; ok && existing.Clock >= e.Clock {
			continue
		}
		a.entries[e.ConnID] = e
	}
	return nil
}

// Encode returns the current state of every known connection, suitable for
// handing a late-joining client the full presence picture.
func (a *Awareness) Encode() []byte {
	entries := make([]awarenessEntry, 0, len(a.entries))
	for _, e := range a.entries {
		if e.State == nil {
			continue
		}
		entries = append(entries, e)
	}
	buf, _ := json.Marshal(entries)
	return buf
}

// Clear removes connID's presence and returns the removal update to
// broadcast to remaining peers. Returns nil when the connection never
// announced presence.
func (a *Awareness) Clear(connID string) []byte {
	existing, ok := a.entries[connID]
	if !ok {
		return nil
	}

	removed := awarenessEntry{ConnID: connID, Clock: existing.Clock + 1, State: nil}
	a.entries[connID] = removed

	buf, _ := json.Marshal([]awarenessEntry{removed})
	return buf
}
