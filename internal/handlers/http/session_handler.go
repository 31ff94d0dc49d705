package http

import (
	"net/http"
	"strconv"
	"time"

	"telesession/internal/core/domain"
	"telesession/internal/core/ports"
	"telesession/internal/infrastructure/middleware"
	"telesession/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionHandler exposes the session document and chat history over REST.
// Live state (participants, vitals) is intentionally absent here: that plane
// exists only on the signaling channel.
type SessionHandler struct {
	store  ports.SessionStore
	logger *zap.SugaredLogger
}

func NewSessionHandler(store ports.SessionStore, logger *zap.SugaredLogger) *SessionHandler {
	return &SessionHandler{store: store, logger: logger}
}

func (h *SessionHandler) SetupRoutes(api *gin.RouterGroup) {
	api.POST("/sessions", middleware.RequireRole(domain.RoleDoctor), h.CreateSession)
	api.GET("/sessions/:id", h.GetSession)
	api.PATCH("/sessions/:id/status", h.UpdateStatus)
	api.GET("/sessions/:id/messages", h.GetMessages)
}

type CreateSessionRequest struct {
	PatientID   domain.UserID `json:"patient_id" binding:"required"`
	ScheduledAt time.Time     `json:"scheduled_at" binding:"required"`
}

func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	doctorID, ok := middleware.CallerID(c)
	if !ok {
		c.Error(errors.NewAuthError("authentication required"))
		return
	}

	session := &domain.Session{
		ID:          domain.SessionID(uuid.NewString()),
		RoomID:      domain.RoomID(uuid.NewString()),
		PatientID:   req.PatientID,
		DoctorID:    doctorID,
		Status:      domain.SessionScheduled,
		ScheduledAt: req.ScheduledAt,
	}

	if err := h.store.PutSession(c.Request.Context(), session); err != nil {
		c.Error(errors.Wrap(err, errors.ErrCodeInternal, "failed to create session"))
		return
	}

	h.logger.Infow("session created",
		"session_id", session.ID,
		"doctor_id", doctorID,
		"patient_id", req.PatientID,
	)
	c.JSON(http.StatusCreated, session)
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	id := domain.SessionID(c.Param("id"))

	session, err := h.store.GetSession(c.Request.Context(), id)
	if err == domain.ErrSessionNotFound {
		c.Error(errors.NewNotFoundError("session"))
		return
	}
	if err != nil {
		c.Error(errors.Wrap(err, errors.ErrCodeInternal, "failed to load session"))
		return
	}

	if !h.mayAccess(c, session) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant of this session"})
		return
	}
	c.JSON(http.StatusOK, session)
}

type UpdateStatusRequest struct {
	Status domain.SessionStatus `json:"status" binding:"required"`
}

func (h *SessionHandler) UpdateStatus(c *gin.Context) {
	id := domain.SessionID(c.Param("id"))

	var req UpdateStatusRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	if !req.Status.Valid() {
		c.Error(errors.NewInvalidInputError("unknown session status"))
		return
	}

	session, err := h.store.GetSession(c.Request.Context(), id)
	if err == domain.ErrSessionNotFound {
		c.Error(errors.NewNotFoundError("session"))
		return
	}
	if err != nil {
		c.Error(errors.Wrap(err, errors.ErrCodeInternal, "failed to load session"))
		return
	}
	if !h.mayAccess(c, session) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant of this session"})
		return
	}

	if !session.Status.CanTransition(req.Status) {
		c.Error(errors.NewInvalidInputError(
			"cannot transition from " + string(session.Status) + " to " + string(req.Status)))
		return
	}

	if err := h.store.UpdateStatus(c.Request.Context(), id, req.Status); err != nil {
		c.Error(errors.Wrap(err, errors.ErrCodeInternal, "failed to update status"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": req.Status})
}

func (h *SessionHandler) GetMessages(c *gin.Context) {
	id := domain.SessionID(c.Param("id"))

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 1000 {
			c.Error(errors.NewInvalidInputError("limit must be between 1 and 1000"))
			return
		}
		limit = parsed
	}

	session, err := h.store.GetSession(c.Request.Context(), id)
	if err == domain.ErrSessionNotFound {
		c.Error(errors.NewNotFoundError("session"))
		return
	}
	if err != nil {
		c.Error(errors.Wrap(err, errors.ErrCodeInternal, "failed to load session"))
		return
	}
	if !h.mayAccess(c, session) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant of this session"})
		return
	}

	messages, err := h.store.RecentMessages(c.Request.Context(), id, limit)
	if err != nil {
		c.Error(errors.Wrap(err, errors.ErrCodeInternal, "failed to load messages"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages, "count": len(messages)})
}

func (h *SessionHandler) mayAccess(c *gin.Context, session *domain.Session) bool {
	callerID, ok := middleware.CallerID(c)
	if !ok {
		return false
	}
	return callerID == session.DoctorID || callerID == session.PatientID
}
