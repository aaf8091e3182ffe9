package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"docuchat.app/engine/common/logger"
	"docuchat.app/engine/internal/model"
	"docuchat.app/engine/internal/service"
)

// SessionCookie is the cookie carrying the session ID.
const SessionCookie = "engine_session"

const userContextKey = "currentUser"

// Logger logs each request with method, path, status and latency.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		slog.InfoContext(c.Request.Context(), "request completed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}

// Auth validates the session cookie and stores the user in the request
// context. Unauthenticated requests are rejected with 401.
func Auth(auth *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		cookie, err := c.Cookie(SessionCookie)
		if err != nil {
			unauthorized(c)
			return
		}

		sessionID, err := strconv.ParseInt(cookie, 10, 64)
		if err != nil {
			unauthorized(c)
			return
		}

		user, err := auth.ValidateSession(c.Request.Context(), sessionID)
		if err != nil {
			unauthorized(c)
			return
		}

		ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{
			UserID: logger.Ptr(strconv.FormatInt(user.ID, 10)),
		})
		c.Request = c.Request.WithContext(ctx)

		c.Set(userContextKey, user)
		c.Next()
	}
}

// CurrentUser returns the authenticated user set by Auth.
func CurrentUser(c *gin.Context) *model.User {
	if v, ok := c.Get(userContextKey); ok {
		if user, ok := v.(*model.User); ok {
			return user
		}
	}
	return nil
}

func unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": "authentication required",
		"code":  "UNAUTHORIZED",
	})
}
