// Package api serves the HTTP intake channel.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gotrs-io/gotrs-intake/internal/auth"
	"github.com/gotrs-io/gotrs-intake/internal/email/inbound/connector"
	"github.com/gotrs-io/gotrs-intake/internal/email/inbound/postmaster"
	"github.com/gotrs-io/gotrs-intake/internal/metrics"
	"github.com/gotrs-io/gotrs-intake/internal/middleware"
	"github.com/gotrs-io/gotrs-intake/internal/models"
)

// TicketService is the intake side the API calls into.
type TicketService interface {
	CreateFromAPI(ctx context.Context, payload map[string]any) (*models.Ticket, error)
	ListOpenTickets(ctx context.Context) ([]*models.OpenTicket, error)
}

// EmailDelivery runs a raw email through the inbound pipeline.
type EmailDelivery interface {
	Deliver(ctx context.Context, msg *connector.FetchedMessage) (postmaster.Result, error)
}

// Pinger reports store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the handlers of the intake API.
type Server struct {
	tickets TicketService
	email   EmailDelivery
	keys    *auth.KeyRing
	health  Pinger
	metrics *metrics.Metrics
	logger  *zap.Logger
	maxBody int64
	timeout time.Duration
}

type Option func(*Server)

// WithEmailDelivery enables POST /api/tickets.email.
func WithEmailDelivery(d EmailDelivery) Option {
	return func(s *Server) { s.email = d }
}

func WithKeyRing(r *auth.KeyRing) Option {
	return func(s *Server) { s.keys = r }
}

func WithHealthCheck(p Pinger) Option {
	return func(s *Server) { s.health = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithBodyLimit caps request bodies.
func WithBodyLimit(n int64) Option {
	return func(s *Server) { s.maxBody = n }
}

// WithRequestTimeout bounds the work done for one request.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

func NewServer(tickets TicketService, opts ...Option) *Server {
	s := &Server{
		tickets: tickets,
		logger:  zap.NewNop(),
		maxBody: middleware.DefaultBodyLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.RequestLogger(s.logger))

	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	keys := middleware.NewAPIKeyAuth(s.keys, s.logger)
	api := r.Group("/api", middleware.BodySizeLimit(s.maxBody))
	api.POST("/:call", keys.RequireAPIKey(middleware.CanCreateTickets), s.handleCreate)
	api.GET("/:call", keys.RequireAPIKey(nil), s.handleList)
	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(c.Request.Context(), s.timeout)
	}
	return context.WithCancel(c.Request.Context())
}
