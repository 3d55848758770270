package gateway

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ErrBusy signals that intake is saturated and the gateway should retry
// delivery later. The server maps it to 429.
var ErrBusy = errors.New("intake saturated")

// HandleFunc processes one authenticated, well-formed webhook payload.
type HandleFunc func(ctx context.Context, payload WebhookPayload) error

// ReadyFunc reports readiness; a non-nil error means not ready.
type ReadyFunc func(ctx context.Context) error

// ServerConfig configures the webhook server.
type ServerConfig struct {
	// WebhookSecret authenticates inbound posts via the
	// x-webhook-secret header. Empty disables the check.
	WebhookSecret string
}

// Server is the inbound HTTP surface: webhook intake, health, readiness,
// and Prometheus metrics.
type Server struct {
	cfg    ServerConfig
	handle HandleFunc
	ready  ReadyFunc
	logger *slog.Logger
	engine *gin.Engine
}

// NewServer builds the gin router. Gin runs in release mode; set
// GIN_MODE=debug to override during development.
func NewServer(cfg ServerConfig, handle HandleFunc, ready ReadyFunc, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	s := &Server{cfg: cfg, handle: handle, ready: ready, logger: logger, engine: gin.New()}
	s.engine.Use(gin.Recovery())

	s.engine.POST("/webhook", s.webhook)
	s.engine.GET("/healthz", s.healthz)
	s.engine.GET("/readyz", s.readyz)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return s
}

// Handler exposes the router for http.Server wiring and tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) webhook(c *gin.Context) {
	if s.cfg.WebhookSecret != "" {
		provided := c.GetHeader("x-webhook-secret")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.WebhookSecret)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook secret"})
			return
		}
	}

	var payload WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}
	if payload.Instance == "" || payload.Data.Key.RemoteJid == "" || payload.Data.Key.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing instance or message key"})
		return
	}

	// Echoes of our own sends and group chatter are acknowledged and
	// dropped so the gateway does not redeliver them.
	if payload.Data.Key.FromMe || payload.Data.Key.IsGroup() {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	if err := s.handle(c.Request.Context(), payload); err != nil {
		if errors.Is(err, ErrBusy) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "busy"})
			return
		}
		// Processing errors still return 2xx: the turn was accepted and
		// failures are handled inside the pipeline. A non-2xx here would
		// make the gateway redeliver and duplicate the turn.
		s.logger.Error("webhook processing failed",
			"instance", payload.Instance, "message_id", payload.Data.Key.ID, "error", err)
	}
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) readyz(c *gin.Context) {
	if s.ready != nil {
		if err := s.ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
