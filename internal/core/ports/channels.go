package ports

import (
	"context"
	"encoding/json"
	"time"

	"telesession/internal/core/domain"
)

// SignalingChannel manages one physical connection to the real-time transport
// endpoint: authentication, liveness, room semantics and reconnection.
type SignalingChannel interface {
	// Connect opens the transport and authenticates. It blocks until the
	// server acknowledges authentication or the configured timeout elapses.
	Connect(ctx context.Context, authToken string) error

	// JoinRoom may only be called after the Authenticated event. Re-invoking
	// for a room that is already joined is a no-op. Joined rooms are re-issued
	// transparently after a reconnect.
	JoinRoom(roomID domain.RoomID, role domain.Role) error

	LeaveRoom(roomID domain.RoomID) error

	// Send is fire-and-forget: failures are logged, never fatal, and messages
	// issued while disconnected are dropped.
	Send(msg OutboundMessage) error

	// Events delivers channel events in arrival order.
	Events() <-chan ChannelEvent

	Close() error
}

// OutboundMessage is the wire envelope for caller-issued signaling messages.
type OutboundMessage struct {
	Type      string                 `json:"type"`
	RoomID    domain.RoomID          `json:"roomId,omitempty"`
	SessionID domain.SessionID       `json:"sessionId,omitempty"`
	Role      domain.Role            `json:"role,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Kind      string                 `json:"kind,omitempty"`
	FileURL   string                 `json:"fileUrl,omitempty"`
	FileName  string                 `json:"fileName,omitempty"`
	Vitals    *domain.VitalSigns     `json:"vitals,omitempty"`
	Enabled   *bool                  `json:"enabled,omitempty"`
	Timestamp int64                  `json:"timestamp,omitempty"`
	Token     string                 `json:"token,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// ChannelEvent is the closed set of events a SignalingChannel emits.
type ChannelEvent interface {
	isChannelEvent()
}

type Authenticated struct {
	UserID domain.UserID
	Name   string
	Role   domain.Role
}

type AuthError struct {
	Reason string
}

type RoomJoined struct {
	RoomID       domain.RoomID
	Participants []domain.Participant
}

type ParticipantJoined struct {
	Participant domain.Participant
}

type ParticipantLeft struct {
	UserID domain.UserID
	LeftAt time.Time
}

// ChatNotify signals that a new durable chat message exists. It never carries
// the message payload; consumers must re-read from the durable store.
type ChatNotify struct{}

type VitalsUpdate struct {
	From   domain.UserID
	Vitals domain.VitalSigns
}

type SignalRelay struct {
	From    domain.UserID
	Payload json.RawMessage
}

type MediaToggled struct {
	UserID  domain.UserID
	Kind    domain.MediaKind
	Enabled bool
}

type ServerError struct {
	Message string
}

type Disconnected struct {
	Code         int
	Reason       string
	Reconnecting bool
}

// ConnectionLost is terminal: the reconnect budget is exhausted and the
// channel will not retry again.
type ConnectionLost struct {
	Attempts int
}

func (Authenticated) isChannelEvent()     {}
func (AuthError) isChannelEvent()         {}
func (RoomJoined) isChannelEvent()        {}
func (ParticipantJoined) isChannelEvent() {}
func (ParticipantLeft) isChannelEvent()   {}
func (ChatNotify) isChannelEvent()        {}
func (VitalsUpdate) isChannelEvent()      {}
func (SignalRelay) isChannelEvent()       {}
func (MediaToggled) isChannelEvent()      {}
func (ServerError) isChannelEvent()       {}
func (Disconnected) isChannelEvent()      {}
func (ConnectionLost) isChannelEvent()    {}
