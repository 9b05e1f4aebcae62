package middleware

import (
	"errors"
	"net/http"

	"github.com/aman-churiwal/delivery-gateway/internal/apperror"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Recovery turns a handler panic into a 500 JSON response. An
// http.ErrAbortHandler panic is passed on so the server drops the connection.
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}

			logger.Error("panic recovered",
				zap.String("request_id", c.GetString(RequestIDKey)),
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.Any("panic", rec),
				zap.Stack("stack"),
			)

			if c.Writer.Written() {
				c.Abort()
				return
			}
			appErr := apperror.Internal("An error occurred in the API Gateway", nil)
			c.AbortWithStatusJSON(appErr.Status(), appErr.Body())
		}()
		c.Next()
	}
}
