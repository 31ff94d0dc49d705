package middleware

import (
	"fmt"

	"telesession/pkg/tracing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Tracing wraps each HTTP request in a span.
func Tracing() gin.HandlerFunc {
	return func(c *gin.Context) {
		name := fmt.Sprintf("%s %s", c.Request.Method, c.FullPath())
		ctx, span := tracing.StartSpan(c.Request.Context(), name)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", c.FullPath()),
			attribute.String("http.client_ip", c.ClientIP()),
		)

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
		if c.Writer.Status() >= 400 {
			span.SetStatus(codes.Error, c.Errors.String())
		}
	}
}
