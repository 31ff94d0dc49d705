package middleware

import (
	"net/http"

	"telesession/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var statusByCode = map[errors.ErrorCode]int{
	errors.ErrCodeAuthFailed:         http.StatusUnauthorized,
	errors.ErrCodeConnectTimeout:     http.StatusGatewayTimeout,
	errors.ErrCodeConnectionLost:     http.StatusBadGateway,
	errors.ErrCodeSubscriptionFailed: http.StatusBadGateway,
	errors.ErrCodeSendFailed:         http.StatusBadGateway,
	errors.ErrCodeAlreadyJoined:      http.StatusConflict,
	errors.ErrCodeNotJoined:          http.StatusConflict,
	errors.ErrCodeInvalidInput:       http.StatusBadRequest,
	errors.ErrCodeNotFound:           http.StatusNotFound,
	errors.ErrCodeInternal:           http.StatusInternalServerError,
}

// ErrorHandler converts errors attached by handlers into structured HTTP
// responses.
func ErrorHandler(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		if appErr := errors.GetAppError(err); appErr != nil {
			status, ok := statusByCode[appErr.Code]
			if !ok {
				status = http.StatusInternalServerError
			}

			logger.Errorw("request failed",
				"code", appErr.Code,
				"message", appErr.Message,
				"status", status,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)
			c.JSON(status, gin.H{
				"error":   string(appErr.Code),
				"message": appErr.Message,
				"details": appErr.Context,
			})
			return
		}

		logger.Errorw("unhandled error",
			"error", err.Error(),
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   string(errors.ErrCodeInternal),
			"message": "Internal server error",
		})
	}
}

// Recovery converts panics into 500 responses instead of dropped connections.
func Recovery(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorw("panic recovered",
					"error", r,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   string(errors.ErrCodeInternal),
					"message": "Internal server error",
				})
			}
		}()
		c.Next()
	}
}
