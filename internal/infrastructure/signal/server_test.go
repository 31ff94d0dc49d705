package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"telesession/internal/core/domain"
	"telesession/internal/core/ports"
	"telesession/internal/core/services"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// memStore is an in-memory SessionStore for server tests.
type memStore struct {
	mu       sync.Mutex
	sessions map[domain.SessionID]*domain.Session
	messages map[domain.SessionID][]domain.ChatMessage
}

func newMemStore() *memStore {
	return &memStore{
		sessions: make(map[domain.SessionID]*domain.Session),
		messages: make(map[domain.SessionID][]domain.ChatMessage),
	}
}

func (s *memStore) GetSession(_ context.Context, id domain.SessionID) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	copied := *sess
	return &copied, nil
}

func (s *memStore) PutSession(_ context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *sess
	s.sessions[sess.ID] = &copied
	return nil
}

func (s *memStore) UpdateStatus(_ context.Context, id domain.SessionID, status domain.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	sess.Status = status
	return nil
}

func (s *memStore) AppendMessage(_ context.Context, id domain.SessionID, msg *domain.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = domain.MessageID(uuid.NewString())
	}
	msg.Timestamp = time.Now()
	s.messages[id] = append(s.messages[id], *msg)
	return nil
}

func (s *memStore) RecentMessages(_ context.Context, id domain.SessionID, limit int) ([]domain.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[id]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]domain.ChatMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *memStore) stored(id domain.SessionID) []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ChatMessage, len(s.messages[id]))
	copy(out, s.messages[id])
	return out
}

var _ ports.SessionStore = (*memStore)(nil)

// serverReply covers every envelope the server sends back in tests.
type serverReply struct {
	Type         string               `json:"type"`
	Message      string               `json:"message"`
	RoomID       domain.RoomID        `json:"roomId"`
	SessionID    domain.SessionID     `json:"sessionId"`
	Participants []domain.Participant `json:"participants"`
	Participant  *domain.Participant  `json:"participant"`
	UserID       domain.UserID        `json:"userId"`
	From         domain.UserID        `json:"from"`
	Kind         string               `json:"kind"`
	Enabled      bool                 `json:"enabled"`
	Timestamp    int64                `json:"timestamp"`
	Vitals       *domain.VitalSigns   `json:"vitals"`
	User         *struct {
		ID   domain.UserID `json:"id"`
		Name string        `json:"name"`
		Role domain.Role   `json:"role"`
	} `json:"user"`
}

type serverFixture struct {
	auth   services.AuthService
	store  *memStore
	server *Server
	url    string
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	auth := services.NewAuthService("test-secret", time.Hour)
	store := newMemStore()
	cfg := DefaultServerConfig()
	cfg.AuthTimeout = 2 * time.Second
	srv := NewServer(auth, store, nil, cfg, zaptest.NewLogger(t).Sugar())

	ts := httptest.NewServer(http.HandlerFunc(srv.HandleWebSocket))
	t.Cleanup(ts.Close)

	return &serverFixture{
		auth:   auth,
		store:  store,
		server: srv,
		url:    "ws" + strings.TrimPrefix(ts.URL, "http"),
	}
}

func (f *serverFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (f *serverFixture) dialAuthenticated(t *testing.T, userID domain.UserID, name string, role domain.Role) *websocket.Conn {
	t.Helper()
	token, err := f.auth.GenerateToken(userID, name, role)
	require.NoError(t, err)

	conn := f.dial(t)
	require.NoError(t, conn.WriteJSON(ports.OutboundMessage{Type: "authenticate", Token: token}))
	reply := readReply(t, conn)
	require.Equal(t, "authenticated", reply.Type)
	require.NotNil(t, reply.User)
	require.Equal(t, userID, reply.User.ID)
	return conn
}

func readReply(t *testing.T, conn *websocket.Conn) serverReply {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply serverReply
	require.NoError(t, conn.ReadJSON(&reply))
	return reply
}

func joinRoom(t *testing.T, conn *websocket.Conn, roomID domain.RoomID, role domain.Role) serverReply {
	t.Helper()
	require.NoError(t, conn.WriteJSON(ports.OutboundMessage{Type: "join-room", RoomID: roomID, Role: role}))
	reply := readReply(t, conn)
	require.Equal(t, "room-joined", reply.Type)
	return reply
}

func TestServer_FirstMessageMustAuthenticate(t *testing.T) {
	f := newServerFixture(t)

	conn := f.dial(t)
	require.NoError(t, conn.WriteJSON(ports.OutboundMessage{Type: "join-room", RoomID: "room-1"}))

	reply := readReply(t, conn)
	assert.Equal(t, "auth-error", reply.Type)
	assert.Equal(t, "authentication required", reply.Message)
}

func TestServer_RejectsInvalidToken(t *testing.T) {
	f := newServerFixture(t)

	conn := f.dial(t)
	require.NoError(t, conn.WriteJSON(ports.OutboundMessage{Type: "authenticate", Token: "garbage"}))

	reply := readReply(t, conn)
	assert.Equal(t, "auth-error", reply.Type)
	assert.Equal(t, "invalid or expired token", reply.Message)
}

func TestServer_JoinRoomAnnouncesParticipants(t *testing.T) {
	f := newServerFixture(t)

	doc := f.dialAuthenticated(t, "doc-1", "Dr. Rivera", domain.RoleDoctor)
	joined := joinRoom(t, doc, "room-1", domain.RoleDoctor)
	assert.Equal(t, domain.RoomID("room-1"), joined.RoomID)
	require.Len(t, joined.Participants, 1)
	assert.Equal(t, domain.UserID("doc-1"), joined.Participants[0].UserID)

	pat := f.dialAuthenticated(t, "pat-1", "Alex", domain.RolePatient)
	joined = joinRoom(t, pat, "room-1", domain.RolePatient)
	assert.Len(t, joined.Participants, 2)

	// The earlier participant hears about the newcomer.
	reply := readReply(t, doc)
	assert.Equal(t, "participant-joined", reply.Type)
	require.NotNil(t, reply.Participant)
	assert.Equal(t, domain.UserID("pat-1"), reply.Participant.UserID)
	assert.Equal(t, domain.ParticipantConnected, reply.Participant.Status)

	assert.Equal(t, 2, f.server.RoomSize("room-1"))
}

func TestServer_ChatMessagePersistedAndNotifiedWithoutPayload(t *testing.T) {
	f := newServerFixture(t)

	doc := f.dialAuthenticated(t, "doc-1", "Dr. Rivera", domain.RoleDoctor)
	joinRoom(t, doc, "room-1", domain.RoleDoctor)
	pat := f.dialAuthenticated(t, "pat-1", "Alex", domain.RolePatient)
	joinRoom(t, pat, "room-1", domain.RolePatient)
	readReply(t, doc) // participant-joined for pat

	require.NoError(t, pat.WriteJSON(ports.OutboundMessage{
		Type:      "chat-message",
		SessionID: "sess-1",
		Message:   "how are you feeling today",
	}))

	// Both sides get the notification; neither gets the message body.
	for _, conn := range []*websocket.Conn{doc, pat} {
		reply := readReply(t, conn)
		assert.Equal(t, "chat-message", reply.Type)
		assert.Equal(t, domain.SessionID("sess-1"), reply.SessionID)
		assert.Empty(t, reply.Message)
	}

	stored := f.store.stored("sess-1")
	require.Len(t, stored, 1)
	assert.Equal(t, "how are you feeling today", stored[0].Message)
	assert.Equal(t, domain.UserID("pat-1"), stored[0].SenderID)
	assert.Equal(t, "Alex", stored[0].SenderName)
	assert.Equal(t, domain.MessageText, stored[0].Kind)
	assert.NotEmpty(t, stored[0].ID)
	assert.False(t, stored[0].Timestamp.IsZero())
}

func TestServer_ChatMessageRequiresSessionAndBody(t *testing.T) {
	f := newServerFixture(t)

	conn := f.dialAuthenticated(t, "pat-1", "Alex", domain.RolePatient)
	joinRoom(t, conn, "room-1", domain.RolePatient)

	require.NoError(t, conn.WriteJSON(ports.OutboundMessage{Type: "chat-message", Message: "hi"}))
	reply := readReply(t, conn)
	assert.Equal(t, "error", reply.Type)
	assert.Contains(t, reply.Message, "sessionId")

	require.NoError(t, conn.WriteJSON(ports.OutboundMessage{Type: "chat-message", SessionID: "sess-1"}))
	reply = readReply(t, conn)
	assert.Equal(t, "error", reply.Type)

	assert.Empty(t, f.store.stored("sess-1"))
}

func TestServer_HeartbeatEchoesTimestamp(t *testing.T) {
	f := newServerFixture(t)

	conn := f.dialAuthenticated(t, "pat-1", "Alex", domain.RolePatient)
	sent := time.Now().UnixMilli()
	require.NoError(t, conn.WriteJSON(ports.OutboundMessage{Type: "heartbeat", Timestamp: sent}))

	reply := readReply(t, conn)
	assert.Equal(t, "pong", reply.Type)
	assert.Equal(t, sent, reply.Timestamp)
}

func TestServer_ToggleMediaValidatesAndBroadcasts(t *testing.T) {
	f := newServerFixture(t)

	doc := f.dialAuthenticated(t, "doc-1", "Dr. Rivera", domain.RoleDoctor)
	joinRoom(t, doc, "room-1", domain.RoleDoctor)
	pat := f.dialAuthenticated(t, "pat-1", "Alex", domain.RolePatient)
	joinRoom(t, pat, "room-1", domain.RolePatient)
	readReply(t, doc) // participant-joined

	require.NoError(t, pat.WriteJSON(ports.OutboundMessage{Type: "toggle-media", Kind: "screen"}))
	reply := readReply(t, pat)
	assert.Equal(t, "error", reply.Type)

	off := false
	require.NoError(t, pat.WriteJSON(ports.OutboundMessage{Type: "toggle-media", Kind: "video", Enabled: &off}))

	reply = readReply(t, doc)
	assert.Equal(t, "participant-toggled-media", reply.Type)
	assert.Equal(t, domain.UserID("pat-1"), reply.UserID)
	assert.Equal(t, "video", reply.Kind)
	assert.False(t, reply.Enabled)
}

func TestServer_VitalsRelayedWithSender(t *testing.T) {
	f := newServerFixture(t)

	doc := f.dialAuthenticated(t, "doc-1", "Dr. Rivera", domain.RoleDoctor)
	joinRoom(t, doc, "room-1", domain.RoleDoctor)
	pat := f.dialAuthenticated(t, "pat-1", "Alex", domain.RolePatient)
	joinRoom(t, pat, "room-1", domain.RolePatient)
	readReply(t, doc) // participant-joined

	require.NoError(t, pat.WriteJSON(ports.OutboundMessage{
		Type:   "vitals-update",
		Vitals: &domain.VitalSigns{HeartRate: 88, OxygenSaturation: 97},
	}))

	reply := readReply(t, doc)
	assert.Equal(t, "vitals-update", reply.Type)
	assert.Equal(t, domain.UserID("pat-1"), reply.From)
	require.NotNil(t, reply.Vitals)
	assert.Equal(t, 88, reply.Vitals.HeartRate)
	assert.False(t, reply.Vitals.Timestamp.IsZero(), "server stamps unstamped vitals")
}

func TestServer_LeaveRoomBroadcastsDeparture(t *testing.T) {
	f := newServerFixture(t)

	doc := f.dialAuthenticated(t, "doc-1", "Dr. Rivera", domain.RoleDoctor)
	joinRoom(t, doc, "room-1", domain.RoleDoctor)
	pat := f.dialAuthenticated(t, "pat-1", "Alex", domain.RolePatient)
	joinRoom(t, pat, "room-1", domain.RolePatient)
	readReply(t, doc) // participant-joined

	require.NoError(t, pat.WriteJSON(ports.OutboundMessage{Type: "leave-room"}))

	reply := readReply(t, doc)
	assert.Equal(t, "participant-left", reply.Type)
	assert.Equal(t, domain.UserID("pat-1"), reply.UserID)
	assert.Greater(t, reply.Timestamp, int64(0), "departure carries a server timestamp")

	require.Eventually(t, func() bool {
		return f.server.RoomSize("room-1") == 1
	}, time.Second, 10*time.Millisecond)
}

func TestServer_DisconnectBroadcastsDeparture(t *testing.T) {
	f := newServerFixture(t)

	doc := f.dialAuthenticated(t, "doc-1", "Dr. Rivera", domain.RoleDoctor)
	joinRoom(t, doc, "room-1", domain.RoleDoctor)
	pat := f.dialAuthenticated(t, "pat-1", "Alex", domain.RolePatient)
	joinRoom(t, pat, "room-1", domain.RolePatient)
	readReply(t, doc) // participant-joined

	pat.Close()

	reply := readReply(t, doc)
	assert.Equal(t, "participant-left", reply.Type)
	assert.Equal(t, domain.UserID("pat-1"), reply.UserID)
}

func TestServer_RejoinReplacesOldConnection(t *testing.T) {
	f := newServerFixture(t)

	first := f.dialAuthenticated(t, "pat-1", "Alex", domain.RolePatient)
	joinRoom(t, first, "room-1", domain.RolePatient)

	second := f.dialAuthenticated(t, "pat-1", "Alex", domain.RolePatient)
	joined := joinRoom(t, second, "room-1", domain.RolePatient)
	require.Len(t, joined.Participants, 1)

	// The replaced connection is closed by the server.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var discard serverReply
		if err := first.ReadJSON(&discard); err != nil {
			break
		}
	}
	assert.Equal(t, 1, f.server.RoomSize("room-1"))
}
