package domain

import "time"

type MessageID string

type MessageKind string

const (
	MessageText MessageKind = "text"
	MessageFile MessageKind = "file"
)

// ChatMessage ordering is defined by the server-assigned Timestamp. The live
// channel only carries a notification that a new message exists; the canonical
// payload always comes from the durable store.
type ChatMessage struct {
	ID         MessageID   `json:"id"`
	SessionID  SessionID   `json:"session_id"`
	SenderID   UserID      `json:"sender_id"`
	SenderName string      `json:"sender_name"`
	Message    string      `json:"message"`
	Timestamp  time.Time   `json:"timestamp"`
	Kind       MessageKind `json:"kind"`
	FileURL    string      `json:"file_url,omitempty"`
	FileName   string      `json:"file_name,omitempty"`
}
