package callback

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/learnhub-dev/learnhub/internal/identity"
	"github.com/learnhub-dev/learnhub/internal/nav"
)

// DefaultAddr listens on a random loopback port
const DefaultAddr = "127.0.0.1:0"

// ErrServerNotStarted is returned by Shutdown and URL before Start
var ErrServerNotStarted = errors.New("callback server not started")

// Detector completes the provider handshake from the callback URL
type Detector interface {
	DetectSessionInURL(ctx context.Context, rawURL string) (*identity.Session, error)
}

// ServerOptions configures the callback server
type ServerOptions struct {
	Addr   string
	Routes nav.Routes
	// AllowOrigins enables CORS for the completion endpoint
	AllowOrigins []string
}

// Server is the loopback HTTP server OAuth providers redirect back to. The
// callback page relays its full URL (fragment included) to the completion
// endpoint, which runs handshake detection and the resolver.
type Server struct {
	router   *gin.Engine
	resolver *Resolver
	detector Detector
	opts     ServerOptions
	logger   zerolog.Logger

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener

	outcomes    chan Outcome
	publishOnce sync.Once
}

type completeRequest struct {
	URL string `json:"url" binding:"required"`
}

type completeResponse struct {
	Outcome
	Message string `json:"message"`
}

// NewServer creates a callback server. detector may be nil when the
// identity client handles the handshake on its own.
func NewServer(resolver *Resolver, detector Detector, opts ServerOptions, zlog zerolog.Logger) *Server {
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.Routes == (nav.Routes{}) {
		opts.Routes = nav.DefaultRoutes()
	}

	s := &Server{
		resolver: resolver,
		detector: detector,
		opts:     opts,
		logger:   zlog,
		outcomes: make(chan Outcome, 1),
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)

	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())

	if len(s.opts.AllowOrigins) > 0 {
		s.router.Use(cors.New(cors.Config{
			AllowOrigins:  s.opts.AllowOrigins,
			AllowMethods:  []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Length", "Content-Type"},
			ExposeHeaders: []string{"Content-Length"},
			MaxAge:        12 * time.Hour,
		}))
	}

	s.router.GET("/health", s.healthCheck)
	s.router.GET(s.opts.Routes.Callback, s.callbackPage)
	s.router.POST(s.opts.Routes.Callback+"/complete", s.complete)
}

// loggingMiddleware logs every request with zerolog
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := ulid.Make().String()
		c.Set("request_id", requestID)
		c.Next()

		s.logger.Debug().
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "online",
		"timestamp": time.Now().UTC(),
		"service":   "learnhub-callback",
	})
}

func (s *Server) callbackPage(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(relayPage))
}

func (s *Server) complete(c *gin.Context) {
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	ctx := c.Request.Context()

	detected := make(chan struct{})
	go func() {
		defer close(detected)
		if s.detector == nil {
			return
		}
		if _, err := s.detector.DetectSessionInURL(ctx, req.URL); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to complete provider handshake")
		}
	}()

	outcome := s.resolver.Resolve(ctx, req.URL)

	select {
	case <-detected:
	case <-ctx.Done():
	}

	s.publish(outcome)
	c.JSON(http.StatusOK, completeResponse{Outcome: outcome, Message: outcomeMessage(outcome)})
}

// publish records the first outcome for Wait
func (s *Server) publish(outcome Outcome) {
	s.publishOnce.Do(func() {
		s.outcomes <- outcome
	})
}

func outcomeMessage(o Outcome) string {
	switch o.Kind {
	case OutcomeSignedIn:
		return "Signed in. You can close this window."
	case OutcomePending:
		return "Finishing sign-in. You can close this window."
	default:
		if o.Error != "" {
			return "Sign-in failed: " + o.Error
		}
		return "Sign-in failed."
	}
}

// Handler exposes the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}

	s.listener = ln
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func(srv *http.Server) {
		s.logger.Debug().Str("addr", ln.Addr().String()).Msg("Starting callback server")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Callback server error")
		}
	}(s.srv)

	return nil
}

// BaseURL returns the server origin, e.g. http://127.0.0.1:54321
func (s *Server) BaseURL() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return "", ErrServerNotStarted
	}
	return "http://" + s.listener.Addr().String(), nil
}

// Wait blocks until the first callback completes or ctx is done
func (s *Server) Wait(ctx context.Context) (Outcome, error) {
	select {
	case o := <-s.outcomes:
		return o, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()

	if srv == nil {
		return ErrServerNotStarted
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down callback server: %w", err)
	}
	s.logger.Debug().Msg("Callback server stopped")
	return nil
}
