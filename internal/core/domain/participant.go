package domain

import "time"

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

type ConnectionStatus string

const (
	ParticipantWaiting      ConnectionStatus = "waiting"
	ParticipantConnected    ConnectionStatus = "connected"
	ParticipantDisconnected ConnectionStatus = "disconnected"
)

type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// Participant lives only in the live signaling plane. It is rebuilt from the
// room snapshot on every (re)connect and is never persisted.
type Participant struct {
	UserID       UserID           `json:"user_id"`
	Role         Role             `json:"role"`
	Name         string           `json:"name"`
	Status       ConnectionStatus `json:"status"`
	AudioEnabled bool             `json:"audio_enabled"`
	VideoEnabled bool             `json:"video_enabled"`
	JoinedAt     time.Time        `json:"joined_at"`
	LeftAt       *time.Time       `json:"left_at,omitempty"`
}
