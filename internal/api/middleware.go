package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/suspectuso/usdt-tracker/internal/storage"
)

const (
	headerRequestID = "X-Request-ID"
	headerAPIKey    = "X-API-Key"

	ctxRequestID = "request_id"
	ctxUserID    = "user_id"
)

// RequestID propagates the caller's X-Request-ID or assigns a new one
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

// AccessLog writes one line per request
func AccessLog(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}

		log.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"took", time.Since(start),
			"request_id", c.GetString(ctxRequestID),
			"client_ip", c.ClientIP(),
		)
	}
}

// Recovery turns a panic into a 500 and logs it
func Recovery(log *slog.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, err any) {
		log.Error("panic in handler", "path", c.FullPath(), "panic", err, "request_id", c.GetString(ctxRequestID))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	})
}

// KeyStore resolves API keys to users
type KeyStore interface {
	LookupAPIKey(ctx context.Context, key string) (int64, error)
}

// Auth accepts "X-API-Key: <key>" or "Authorization: Bearer <key>"
func Auth(keys KeyStore, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := apiKeyFromRequest(c)
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing api key"})
			return
		}

		userID, err := keys.LookupAPIKey(c.Request.Context(), key)
		if errors.Is(err, storage.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}
		if err != nil {
			log.Error("lookup api key", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		c.Set(ctxUserID, userID)
		c.Next()
	}
}

// SystemOnly rejects keys that belong to a regular user
func SystemOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isSystem(c) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "system key required"})
			return
		}
		c.Next()
	}
}

func apiKeyFromRequest(c *gin.Context) string {
	if key := strings.TrimSpace(c.GetHeader(headerAPIKey)); key != "" {
		return key
	}

	scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}

func callerID(c *gin.Context) int64 {
	return c.GetInt64(ctxUserID)
}

// isSystem is false for requests that never passed Auth
func isSystem(c *gin.Context) bool {
	v, ok := c.Get(ctxUserID)
	id, _ := v.(int64)
	return ok && id == storage.SystemUserID
}
