package ports

import (
	"context"

	"telesession/internal/core/domain"
)

// SessionStore is the durable record of truth for session metadata and chat
// history.
type SessionStore interface {
	GetSession(ctx context.Context, id domain.SessionID) (*domain.Session, error)
	PutSession(ctx context.Context, session *domain.Session) error
	UpdateStatus(ctx context.Context, id domain.SessionID, status domain.SessionStatus) error

	// AppendMessage assigns the server timestamp (and an ID when absent)
	// before writing; the assigned timestamp defines chat ordering.
	AppendMessage(ctx context.Context, id domain.SessionID, msg *domain.ChatMessage) error

	// RecentMessages returns the most recent limit messages in ascending
	// timestamp order.
	RecentMessages(ctx context.Context, id domain.SessionID, limit int) ([]domain.ChatMessage, error)
}

// PersistenceSync subscribes to durable-store change notifications for one
// session document and its message collection, independent of signaling
// connectivity. Subscription errors are reported once on the error channel
// and are not retried internally; retry policy belongs to the caller.
type PersistenceSync interface {
	Subscribe(ctx context.Context, id domain.SessionID) (<-chan *domain.Session, <-chan []domain.ChatMessage, <-chan error, error)

	// Refresh forces a re-read of the message collection, used when a live
	// chat notification arrives ahead of the store's own change feed.
	Refresh()

	// Unsubscribe releases both live queries. Safe to call repeatedly and
	// from any state.
	Unsubscribe()
}
