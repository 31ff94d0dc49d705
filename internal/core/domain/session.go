package domain

import "time"

type SessionID string
type RoomID string
type UserID string

type SessionStatus string

const (
	SessionScheduled SessionStatus = "scheduled"
	SessionWaiting   SessionStatus = "waiting"
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
)

var statusTransitions = map[SessionStatus][]SessionStatus{
	SessionScheduled: {SessionWaiting, SessionActive, SessionCancelled},
	SessionWaiting:   {SessionActive, SessionCancelled},
	SessionActive:    {SessionCompleted, SessionCancelled},
}

// CanTransition reports whether a status change is allowed. Completed and
// cancelled are terminal.
func (s SessionStatus) CanTransition(to SessionStatus) bool {
	for _, next := range statusTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s SessionStatus) Valid() bool {
	switch s {
	case SessionScheduled, SessionWaiting, SessionActive, SessionCompleted, SessionCancelled:
		return true
	}
	return false
}

type Session struct {
	ID           SessionID     `json:"id"`
	RoomID       RoomID        `json:"room_id"`
	PatientID    UserID        `json:"patient_id"`
	DoctorID     UserID        `json:"doctor_id"`
	Status       SessionStatus `json:"status"`
	ScheduledAt  time.Time     `json:"scheduled_at"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	EndedAt      *time.Time    `json:"ended_at,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
	RecordingURL string        `json:"recording_url,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}
