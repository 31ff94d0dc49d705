package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"telesession/internal/core/domain"
	"telesession/internal/core/services"
	"telesession/internal/infrastructure/middleware"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeStore struct {
	mu       sync.Mutex
	sessions map[domain.SessionID]*domain.Session
	messages map[domain.SessionID][]domain.ChatMessage
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[domain.SessionID]*domain.Session),
		messages: make(map[domain.SessionID][]domain.ChatMessage),
	}
}

func (s *fakeStore) GetSession(_ context.Context, id domain.SessionID) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	copied := *sess
	return &copied, nil
}

func (s *fakeStore) PutSession(_ context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *sess
	s.sessions[sess.ID] = &copied
	return nil
}

func (s *fakeStore) UpdateStatus(_ context.Context, id domain.SessionID, status domain.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	sess.Status = status
	return nil
}

func (s *fakeStore) AppendMessage(_ context.Context, id domain.SessionID, msg *domain.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[id] = append(s.messages[id], *msg)
	return nil
}

func (s *fakeStore) RecentMessages(_ context.Context, id domain.SessionID, limit int) ([]domain.ChatMessage, error) {
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

type apiFixture struct {
	auth   services.AuthService
	store  *fakeStore
	router *gin.Engine
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	auth := services.NewAuthService("test-secret", time.Hour)
	store := newFakeStore()
	log := zaptest.NewLogger(t).Sugar()

	router := gin.New()
	router.Use(middleware.ErrorHandler(log))

	NewTokenHandler(auth).SetupRoutes(router)

	api := router.Group("/api/v1")
	api.Use(middleware.Auth(auth))
	NewSessionHandler(store, log).SetupRoutes(api)

	return &apiFixture{auth: auth, store: store, router: router}
}

func (f *apiFixture) token(t *testing.T, userID domain.UserID, role domain.Role) string {
	t.Helper()
	token, err := f.auth.GenerateToken(userID, "Test User", role)
	require.NoError(t, err)
	return token
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *apiFixture) seedSession(sess *domain.Session) {
	f.store.PutSession(context.Background(), sess)
}

func TestCreateSession(t *testing.T) {
	f := newAPIFixture(t)
	doctor := f.token(t, "doc-1", domain.RoleDoctor)

	w := f.do(t, http.MethodPost, "/api/v1/sessions", doctor, CreateSessionRequest{
		PatientID:   "pat-1",
		ScheduledAt: time.Now().Add(time.Hour),
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var created domain.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.NotEmpty(t, created.RoomID)
	assert.Equal(t, domain.UserID("doc-1"), created.DoctorID)
	assert.Equal(t, domain.UserID("pat-1"), created.PatientID)
	assert.Equal(t, domain.SessionScheduled, created.Status)
}

func TestCreateSession_PatientForbidden(t *testing.T) {
	f := newAPIFixture(t)
	patient := f.token(t, "pat-1", domain.RolePatient)

	w := f.do(t, http.MethodPost, "/api/v1/sessions", patient, CreateSessionRequest{
		PatientID:   "pat-1",
		ScheduledAt: time.Now().Add(time.Hour),
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCreateSession_RequiresAuth(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/sessions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetSession(t *testing.T) {
	f := newAPIFixture(t)
	f.seedSession(&domain.Session{
		ID: "sess-1", RoomID: "room-1",
		DoctorID: "doc-1", PatientID: "pat-1",
		Status: domain.SessionScheduled,
	})

	w := f.do(t, http.MethodGet, "/api/v1/sessions/sess-1", f.token(t, "pat-1", domain.RolePatient), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var sess domain.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))
	assert.Equal(t, domain.SessionID("sess-1"), sess.ID)
}

func TestGetSession_NotFound(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/sessions/nope", f.token(t, "pat-1", domain.RolePatient), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetSession_NonParticipantForbidden(t *testing.T) {
	f := newAPIFixture(t)
	f.seedSession(&domain.Session{
		ID: "sess-1", DoctorID: "doc-1", PatientID: "pat-1",
		Status: domain.SessionScheduled,
	})

	w := f.do(t, http.MethodGet, "/api/v1/sessions/sess-1", f.token(t, "someone-else", domain.RolePatient), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestUpdateStatus(t *testing.T) {
	f := newAPIFixture(t)
	f.seedSession(&domain.Session{
		ID: "sess-1", DoctorID: "doc-1", PatientID: "pat-1",
		Status: domain.SessionScheduled,
	})
	doctor := f.token(t, "doc-1", domain.RoleDoctor)

	w := f.do(t, http.MethodPatch, "/api/v1/sessions/sess-1/status", doctor,
		UpdateStatusRequest{Status: domain.SessionActive})
	require.Equal(t, http.StatusOK, w.Code)

	sess, err := f.store.GetSession(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, sess.Status)
}

func TestUpdateStatus_RejectsInvalidTransition(t *testing.T) {
	f := newAPIFixture(t)
	f.seedSession(&domain.Session{
		ID: "sess-1", DoctorID: "doc-1", PatientID: "pat-1",
		Status: domain.SessionCompleted,
	})
	doctor := f.token(t, "doc-1", domain.RoleDoctor)

	w := f.do(t, http.MethodPatch, "/api/v1/sessions/sess-1/status", doctor,
		UpdateStatusRequest{Status: domain.SessionActive})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	sess, err := f.store.GetSession(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCompleted, sess.Status, "status must not change")
}

func TestUpdateStatus_RejectsUnknownStatus(t *testing.T) {
	f := newAPIFixture(t)
	f.seedSession(&domain.Session{
		ID: "sess-1", DoctorID: "doc-1", PatientID: "pat-1",
		Status: domain.SessionScheduled,
	})

	w := f.do(t, http.MethodPatch, "/api/v1/sessions/sess-1/status",
		f.token(t, "doc-1", domain.RoleDoctor),
		map[string]string{"status": "paused"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetMessages(t *testing.T) {
	f := newAPIFixture(t)
	f.seedSession(&domain.Session{
		ID: "sess-1", DoctorID: "doc-1", PatientID: "pat-1",
		Status: domain.SessionActive,
	})
	for i, text := range []string{"first", "second", "third"} {
		f.store.AppendMessage(context.Background(), "sess-1", &domain.ChatMessage{
			ID:        domain.MessageID(rune('a' + i)),
			SessionID: "sess-1",
			SenderID:  "pat-1",
			Message:   text,
			Kind:      domain.MessageText,
			Timestamp: time.Now(),
		})
	}

	w := f.do(t, http.MethodGet, "/api/v1/sessions/sess-1/messages?limit=2",
		f.token(t, "doc-1", domain.RoleDoctor), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Messages []domain.ChatMessage `json:"messages"`
		Count    int                  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "second", resp.Messages[0].Message)
	assert.Equal(t, "third", resp.Messages[1].Message)
}

func TestGetMessages_LimitBounds(t *testing.T) {
	f := newAPIFixture(t)
	f.seedSession(&domain.Session{
		ID: "sess-1", DoctorID: "doc-1", PatientID: "pat-1",
		Status: domain.SessionActive,
	})
	doctor := f.token(t, "doc-1", domain.RoleDoctor)

	for _, limit := range []string{"0", "-1", "1001", "abc"} {
		w := f.do(t, http.MethodGet, "/api/v1/sessions/sess-1/messages?limit="+limit, doctor, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, "limit=%s", limit)
	}
}

func TestIssueToken(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/token", "", TokenRequest{
		UserID: "pat-1",
		Name:   "Alex",
		Role:   domain.RolePatient,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)

	claims, err := f.auth.ValidateToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("pat-1"), claims.UserID)
	assert.Equal(t, domain.RolePatient, claims.Role)
}

func TestIssueToken_RejectsUnknownRole(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/token", "", TokenRequest{
		UserID: "x",
		Name:   "X",
		Role:   domain.Role("admin"),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
