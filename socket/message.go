package socket

import (
	"encoding/json"
	"time"
)

const (
	JoinType     = "JOIN"     // Client opened a note and wants room membership
	EditType     = "EDIT"     // Note title and/or content changed
	PresenceType = "PRESENCE" // Full list of clients currently in a room
	ErrorType    = "ERROR"    // Hub rejected the sender's last message
)

// RealtimeSource tags hub-relayed edits so a receiver can tell them apart
// from its own optimistic state.
const RealtimeSource = "realtime"

type Message struct {
	Type     string          `json:"type"`
	NoteID   string          `json:"note_id,omitempty"`
	ClientID string          `json:"client_id,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// EditDelta is a partial update. A nil field means "unchanged", never
// "clear this field".
type EditDelta struct {
	Title     *string    `json:"title,omitempty"`
	Content   *string    `json:"content,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
	Source    string     `json:"source,omitempty"`
}

// Empty reports whether the delta changes nothing.
func (d EditDelta) Empty() bool {
	return d.Title == nil && d.Content == nil
}

type ErrorPayload struct {
	Message string `json:"message"`
}
