package ws

import (
	"encoding/base64"
	"encoding/json"
)

// Message types, client to server.
const (
	TypeOpen      = "open"
	TypeAttach    = "attach"
	TypeUpdate    = "sync:update"
	TypeAwareness = "awareness:update"
	TypeLeave     = "leave"
)

// Message types, server to client.
const (
	TypeOpenOK = "open:ok"
	TypeState  = "sync:state"
	TypeError  = "error"
)

// Message is the JSON envelope for every websocket frame. Binary payloads
// travel base64-encoded, the same convention the REST backend uses for
// snapshot bytes.
type Message struct {
	Type       string `json:"type"`
	DocumentID uint64 `json:"document_id,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	Role       string `json:"role,omitempty"`
	Binary     string `json:"binary,omitempty"`
	Awareness  string `json:"awareness,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (m *Message) DecodeBinary() ([]byte, error) {
	return base64.StdEncoding.DecodeString(m.Binary)
}

func encodeBinary(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func marshalMessage(m Message) []byte {
	buf, _ := json.Marshal(m)
	return buf
}
