package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	pkgerrors "ora-bot/backend/pkg/errors"
	"ora-bot/backend/pkg/logger"
)

// AuthStore completes the Google login handshake the /login command starts.
type AuthStore interface {
	ConsumeLoginState(ctx context.Context, state string) (string, error)
	UpsertGoogleSub(ctx context.Context, userID, googleSub string) error
}

// Server is the bot's HTTP sidecar: health reporting and the OAuth
// callback target.
type Server struct {
	store      AuthStore
	guildCount func() int
	startedAt  time.Time
	logger     *zap.Logger
}

// NewServer creates the web server. guildCount reports the gateway's
// current guild membership for /healthz.
func NewServer(store AuthStore, guildCount func() int) *Server {
	if guildCount == nil {
		guildCount = func() int { return 0 }
	}
	return &Server{
		store:      store,
		guildCount: guildCount,
		startedAt:  time.Now(),
		logger:     logger.Get(),
	}
}

// Router builds the gin handler.
func (s *Server) Router(production bool) *gin.Engine {
	if production {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(ginLogger(s.logger))
	router.Use(gin.Recovery())

	router.GET("/healthz", s.handleHealthz)
	router.GET("/auth/discord", s.handleAuthDiscord)

	return router
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"guilds":         s.guildCount(),
	})
}

// handleAuthDiscord is where the Google OAuth flow lands after the user
// follows the /login URL: the state nonce maps back to a Discord user, the
// sub is recorded against them.
func (s *Server) handleAuthDiscord(c *gin.Context) {
	state := c.Query("state")
	sub := c.Query("sub")
	if state == "" || sub == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "state and sub are required"})
		return
	}

	ctx := c.Request.Context()
	userID, err := s.store.ConsumeLoginState(ctx, state)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrLoginStateInvalid) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "login state unknown or expired"})
			return
		}
		s.logger.Error("Failed to consume login state", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to complete login"})
		return
	}

	if err := s.store.UpsertGoogleSub(ctx, userID, sub); err != nil {
		s.logger.Error("Failed to record google sub",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to complete login"})
		return
	}

	s.logger.Info("Google login completed", zap.String("user_id", userID))
	c.JSON(http.StatusOK, gin.H{"status": "linked", "user_id": userID})
}

// ginLogger is a custom logger middleware for Gin.
func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Info("HTTP Request",
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}
