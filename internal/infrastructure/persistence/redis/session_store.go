package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"telesession/internal/core/domain"
	"telesession/internal/core/ports"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "telesession:session:"

// SessionStore keeps the session document as a JSON value and the chat log as
// a sorted set scored by the server-assigned timestamp. Every write publishes
// a change notification on the session's notify channel; RedisSync listens on
// the same channel.
type SessionStore struct {
	client *redis.Client
}

var _ ports.SessionStore = (*SessionStore)(nil)

func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{client: client}
}

func sessionKey(id domain.SessionID) string {
	return keyPrefix + string(id)
}

func messagesKey(id domain.SessionID) string {
	return keyPrefix + string(id) + ":messages"
}

func notifyChannel(id domain.SessionID) string {
	return "telesession:notify:" + string(id)
}

type changeNotice struct {
	Kind string `json:"kind"` // "session" or "messages"
}

func (s *SessionStore) GetSession(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	data, err := s.client.Get(ctx, sessionKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session from Redis: %w", err)
	}

	var session domain.Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

func (s *SessionStore) PutSession(ctx context.Context, session *domain.Session) error {
	session.UpdatedAt = time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = session.UpdatedAt
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(session.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set session in Redis: %w", err)
	}

	s.publish(ctx, session.ID, "session")
	return nil
}

// UpdateStatus mutates only the status field, stamping lifecycle timestamps
// as the session moves through active and completed.
func (s *SessionStore) UpdateStatus(ctx context.Context, id domain.SessionID, status domain.SessionStatus) error {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}

	now := time.Now()
	session.Status = status
	switch status {
	case domain.SessionActive:
		if session.StartedAt == nil {
			session.StartedAt = &now
		}
	case domain.SessionCompleted, domain.SessionCancelled:
		if session.EndedAt == nil {
			session.EndedAt = &now
		}
		if session.StartedAt != nil {
			session.Duration = session.EndedAt.Sub(*session.StartedAt)
		}
	}

	return s.PutSession(ctx, session)
}

// AppendMessage assigns the server timestamp and an ID when absent, then
// writes the message into the sorted set. The score is the timestamp, so
// range reads come back in chat order.
func (s *SessionStore) AppendMessage(ctx context.Context, id domain.SessionID, msg *domain.ChatMessage) error {
	if msg.ID == "" {
		msg.ID = domain.MessageID(uuid.NewString())
	}
	msg.SessionID = id
	msg.Timestamp = time.Now()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal chat message: %w", err)
	}

	member := redis.Z{
		Score:  float64(msg.Timestamp.UnixMilli()),
		Member: data,
	}
	if err := s.client.ZAdd(ctx, messagesKey(id), member).Err(); err != nil {
		return fmt.Errorf("failed to append chat message: %w", err)
	}

	s.publish(ctx, id, "messages")
	return nil
}

// RecentMessages returns the most recent limit messages in ascending
// timestamp order.
func (s *SessionStore) RecentMessages(ctx context.Context, id domain.SessionID, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		return nil, nil
	}

	// Newest-first window, then reversed to ascending.
	raw, err := s.client.ZRevRange(ctx, messagesKey(id), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read chat messages: %w", err)
	}

	messages := make([]domain.ChatMessage, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var msg domain.ChatMessage
		if err := json.Unmarshal([]byte(raw[i]), &msg); err != nil {
			// A corrupt entry must not hide the rest of the log.
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (s *SessionStore) publish(ctx context.Context, id domain.SessionID, kind string) {
	payload, _ := json.Marshal(changeNotice{Kind: kind})
	// Best effort: a missed notification is recovered by the next Refresh.
	s.client.Publish(ctx, notifyChannel(id), payload)
}
