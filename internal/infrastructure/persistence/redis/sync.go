package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"telesession/internal/core/domain"
	"telesession/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Sync implements PersistenceSync over Redis pub/sub. Subscribe delivers an
// initial snapshot of both the session document and the message window, then
// re-reads whichever collection a change notification names. Snapshot
// channels are latest-wins: a slow consumer sees the newest state, never a
// backlog.
type Sync struct {
	store  *SessionStore
	client *redis.Client
	window int
	logger *zap.SugaredLogger

	mu      sync.Mutex
	cancel  context.CancelFunc
	refresh chan struct{}
}

var _ ports.PersistenceSync = (*Sync)(nil)

func NewSync(store *SessionStore, client *redis.Client, messageWindow int, logger *zap.SugaredLogger) *Sync {
	if messageWindow <= 0 {
		messageWindow = 100
	}
	return &Sync{
		store:  store,
		client: client,
		window: messageWindow,
		logger: logger,
	}
}

func (s *Sync) Subscribe(ctx context.Context, id domain.SessionID) (<-chan *domain.Session, <-chan []domain.ChatMessage, <-chan error, error) {
	// A second Subscribe replaces the first.
	s.Unsubscribe()

	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load session %s: %w", id, err)
	}
	messages, err := s.store.RecentMessages(ctx, id, s.window)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load messages for %s: %w", id, err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	pubsub := s.client.Subscribe(subCtx, notifyChannel(id))
	if _, err := pubsub.Receive(subCtx); err != nil {
		cancel()
		return nil, nil, nil, fmt.Errorf("subscribe to change feed: %w", err)
	}

	sessCh := make(chan *domain.Session, 1)
	msgCh := make(chan []domain.ChatMessage, 1)
	errCh := make(chan error, 1)
	refresh := make(chan struct{}, 1)

	sessCh <- session
	msgCh <- messages

	s.mu.Lock()
	s.cancel = cancel
	s.refresh = refresh
	s.mu.Unlock()

	go s.run(subCtx, id, pubsub, sessCh, msgCh, errCh, refresh)
	return sessCh, msgCh, errCh, nil
}

func (s *Sync) run(ctx context.Context, id domain.SessionID, pubsub *redis.PubSub,
	sessCh chan *domain.Session, msgCh chan []domain.ChatMessage, errCh chan error,
	refresh chan struct{}) {

	defer func() {
		pubsub.Close()
		close(sessCh)
		close(msgCh)
		close(errCh)
	}()

	notices := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-notices:
			if !ok {
				// The pub/sub connection died. Reported once; the caller owns
				// retry policy.
				errCh <- fmt.Errorf("change feed for session %s closed", id)
				return
			}

			var notice changeNotice
			if err := json.Unmarshal([]byte(msg.Payload), &notice); err != nil {
				s.logger.Warnw("malformed change notice", "session_id", id, "error", err)
				continue
			}

			switch notice.Kind {
			case "session":
				s.pushSession(ctx, id, sessCh)
			case "messages":
				s.pushMessages(ctx, id, msgCh)
			default:
				s.pushSession(ctx, id, sessCh)
				s.pushMessages(ctx, id, msgCh)
			}

		case <-refresh:
			s.pushMessages(ctx, id, msgCh)
		}
	}
}

func (s *Sync) pushSession(ctx context.Context, id domain.SessionID, ch chan *domain.Session) {
	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		s.logger.Warnw("session re-read failed", "session_id", id, "error", err)
		return
	}
	select {
	case ch <- session:
	default:
		select {
		case <-ch:
		default:
		}
		ch <- session
	}
}

func (s *Sync) pushMessages(ctx context.Context, id domain.SessionID, ch chan []domain.ChatMessage) {
	messages, err := s.store.RecentMessages(ctx, id, s.window)
	if err != nil {
		s.logger.Warnw("message re-read failed", "session_id", id, "error", err)
		return
	}
	select {
	case ch <- messages:
	default:
		select {
		case <-ch:
		default:
		}
		ch <- messages
	}
}

// Refresh forces a message re-read ahead of the store's own change feed.
// No-op when not subscribed.
func (s *Sync) Refresh() {
	s.mu.Lock()
	refresh := s.refresh
	s.mu.Unlock()

	if refresh == nil {
		return
	}
	select {
	case refresh <- struct{}{}:
	default:
	}
}

// Unsubscribe is idempotent and safe from any state.
func (s *Sync) Unsubscribe() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.refresh = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}
