// Package httpapi holds the REST surface: account registration and login,
// media credential issuance and the per-user call-history projection.
package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"calling-platform/internal/auth"
	"calling-platform/internal/history"
	"calling-platform/internal/mediatoken"
	"calling-platform/internal/users"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Users   *users.Service
	History *history.Service

	MediaTokens   mediatoken.Builder
	MediaTokenTTL time.Duration

	// clock is injectable for deterministic tests.
	Clock func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Clock != nil {
		return h.Clock()
	}
	return time.Now()
}

// --- Accounts ---

// Register creates an account, assigns its calling number and returns a
// token pair so the client can connect immediately.
func (h Handlers) Register(c *gin.Context) {
	var req users.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	u, pair, err := h.Users.Register(c.Request.Context(), req)
	switch {
	case errors.Is(err, users.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, users.ErrUsernameTaken):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "username taken"})
		return
	case err != nil:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"user":          u,
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
	})
}

func (h Handlers) Login(c *gin.Context) {
	var req users.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	u, pair, err := h.Users.Login(c.Request.Context(), req)
	switch {
	case errors.Is(err, users.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
		return
	case errors.Is(err, users.ErrInvalidCredentials):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	case err != nil:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":          u,
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
	})
}

// Me echoes the authenticated identity from the request context.
func (h Handlers) Me(c *gin.Context) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	number, _ := auth.CallingNumber(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"user_id": uid, "calling_number": number})
}

// --- Media credentials ---

// MediaToken issues a signed channel-join credential for the requested
// channel. The subject is always the authenticated user.
func (h Handlers) MediaToken(c *gin.Context) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	channel := c.Query("channel")
	if channel == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "channel required"})
		return
	}
	role := mediatoken.RoleFromString(c.Query("role"))

	expireAt := h.now().Add(h.mediaTokenTTL()).Unix()
	tok, err := h.MediaTokens.Build(channel, uid, role, expireAt)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token build failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":     tok,
		"channel":   channel,
		"role":      role,
		"expire_at": expireAt,
	})
}

func (h Handlers) mediaTokenTTL() time.Duration {
	if h.MediaTokenTTL > 0 {
		return h.MediaTokenTTL
	}
	return 24 * time.Hour
}

// --- Call history ---

func (h Handlers) CallHistory(c *gin.Context) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
	}

	entries, err := h.History.ListForUser(c.Request.Context(), uid, limit)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history lookup failed"})
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"calls": entries})
}
