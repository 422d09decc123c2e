// Package api provides the HTTP server for Kantei.
//
// It receives the Twilio WhatsApp webhook, exposes health and read-only
// session/identification endpoints, and runs the server alongside the other
// long-lived components under one errgroup.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	twilioclient "github.com/twilio/twilio-go/client"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/Kantei/internal/inbound"
	"github.com/BTreeMap/Kantei/internal/messaging"
	"github.com/BTreeMap/Kantei/internal/models"
	"github.com/BTreeMap/Kantei/internal/store"
)

// Constants for server configuration
const (
	// DefaultAddr is the default listen address.
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultReadHeaderTimeout bounds request header reads.
	DefaultReadHeaderTimeout = 10 * time.Second
	// DefaultIdentificationLimit is used when the limit query parameter is absent.
	DefaultIdentificationLimit = 20
)

// Dispatcher handles one inbound event.
type Dispatcher interface {
	Handle(ctx context.Context, ev models.InboundEvent) (inbound.Result, error)
}

// TwilioInbound converts webhooks into inbound events.
type TwilioInbound interface {
	InboundEvent(ctx context.Context, hook messaging.TwilioWebhook) (models.InboundEvent, error)
}

// SessionReader returns an owner's active session, or nil.
type SessionReader interface {
	ActiveSession(ctx context.Context, owner string) (*models.DialogueSession, error)
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr              string
	TwilioAuthToken   string // enables X-Twilio-Signature verification
	TwilioWebhookURL  string // public URL Twilio signs requests for
	Logger            *zap.Logger
	ShutdownTimeout   time.Duration
	ReadHeaderTimeout time.Duration
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithTwilioSignature enables webhook signature verification against the public webhook URL.
func WithTwilioSignature(authToken, webhookURL string) Option {
	return func(o *Opts) {
		o.TwilioAuthToken = authToken
		o.TwilioWebhookURL = webhookURL
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Opts) { o.Logger = l }
}

// WithShutdownTimeout sets the graceful shutdown bound.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *Opts) { o.ShutdownTimeout = d }
}

// Server is the Kantei HTTP server.
type Server struct {
	router          *gin.Engine
	httpServer      *http.Server
	dispatcher      Dispatcher
	twilio          TwilioInbound
	sessions        SessionReader
	identifications store.IdentificationRepo
	validate        *validatorv10.Validate
	signature       *twilioclient.RequestValidator
	webhookURL      string
	shutdownTimeout time.Duration
	logger          *zap.Logger
}

// NewServer creates a server. twilio may be nil when another transport is in use,
// in which case the webhook route is not registered.
func NewServer(dispatcher Dispatcher, twilio TwilioInbound, sessions SessionReader, identifications store.IdentificationRepo, opts ...Option) *Server {
	cfg := Opts{
		Addr:              DefaultAddr,
		ShutdownTimeout:   DefaultShutdownTimeout,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	s := &Server{
		dispatcher:      dispatcher,
		twilio:          twilio,
		sessions:        sessions,
		identifications: identifications,
		validate:        newValidator(),
		webhookURL:      cfg.TwilioWebhookURL,
		shutdownTimeout: cfg.ShutdownTimeout,
		logger:          cfg.Logger,
	}
	if cfg.TwilioAuthToken != "" && cfg.TwilioWebhookURL != "" {
		v := twilioclient.NewRequestValidator(cfg.TwilioAuthToken)
		s.signature = &v
	}

	s.router = gin.New()
	s.router.Use(gin.Recovery(), s.requestLogger())
	s.routes()
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	return s
}

func (s *Server) routes() {
	s.router.GET("/healthz", s.healthHandler)
	if s.twilio != nil {
		s.router.POST("/webhook/twilio", s.twilioWebhookHandler)
	}
	api := s.router.Group("/api")
	api.GET("/sessions/:owner", s.sessionHandler)
	api.GET("/identifications/:owner", s.identificationsHandler)
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("Server.request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server.ListenAndServe: listening", zap.String("addr", s.httpServer.Addr))
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	<-errCh
	s.logger.Info("Server.ListenAndServe: stopped")
	return nil
}

// Task is a long-lived component run next to the server.
type Task func(ctx context.Context) error

// Run serves HTTP and runs every task until ctx is done or any of them fails.
func Run(ctx context.Context, s *Server, tasks ...Task) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.ListenAndServe(ctx) })
	for _, task := range tasks {
		g.Go(func() error { return task(ctx) })
	}
	return g.Wait()
}
