package http

import (
	"net/http"
	"strings"

	"telesession/internal/core/domain"
	"telesession/internal/core/services"
	"telesession/pkg/errors"

	"github.com/gin-gonic/gin"
)

// TokenHandler mints signaling tokens. Identity verification happens
// upstream; this endpoint only translates an already-trusted identity into a
// short-lived JWT the signaling server accepts.
type TokenHandler struct {
	authService services.AuthService
}

func NewTokenHandler(authService services.AuthService) *TokenHandler {
	return &TokenHandler{authService: authService}
}

func (h *TokenHandler) SetupRoutes(router *gin.Engine) {
	router.POST("/api/v1/token", h.IssueToken)
}

type TokenRequest struct {
	UserID string      `json:"user_id" binding:"required,max=128"`
	Name   string      `json:"name" binding:"required,max=128"`
	Role   domain.Role `json:"role" binding:"required"`
}

func (h *TokenHandler) IssueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Role != domain.RolePatient && req.Role != domain.RoleDoctor {
		c.Error(errors.NewInvalidInputError("role must be patient or doctor"))
		return
	}

	token, err := h.authService.GenerateToken(domain.UserID(req.UserID), req.Name, req.Role)
	if err != nil {
		c.Error(errors.Wrap(err, errors.ErrCodeInternal, "failed to generate token"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}
