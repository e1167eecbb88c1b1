package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/kiosk-device/cardhub/internal/auth"
	"github.com/kiosk-device/cardhub/internal/events"
)

// Deps are the collaborators behind the HTTP surface. Lifecycle, Analytics,
// Auth and Metrics are optional.
type Deps struct {
	Commands  CommandPort
	Sessions  SessionPort
	Device    DevicePort
	Gateway   *events.Gateway
	Lifecycle LifecyclePort
	Analytics AnalyticsPort
	Auth      *auth.Middleware
	Metrics   http.Handler
}

// Options tune the HTTP server and WebSocket sessions.
type Options struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	WriteWait   time.Duration
	PongWait    time.Duration
	PingPeriod  time.Duration
	MetricsPath string
	Version     string
}

// Server represents the HTTP API server.
type Server struct {
	deps      Deps
	opts      Options
	log       *logrus.Entry
	upgrader  websocket.Upgrader
	startTime time.Time

	mu         sync.Mutex
	httpServer *http.Server
	sessions   sync.WaitGroup
}

// NewServer creates a new API server.
func NewServer(deps Deps, opts Options, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 10 * time.Second
	}
	if opts.PongWait <= 0 {
		opts.PongWait = 60 * time.Second
	}
	if opts.PingPeriod <= 0 || opts.PingPeriod >= opts.PongWait {
		opts.PingPeriod = opts.PongWait * 9 / 10
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	return &Server{
		deps:      deps,
		opts:      opts,
		log:       log.WithField("component", "api"),
		startTime: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Clients are local kiosk processes, not browsers on other origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// Start listens on addr and serves until Stop is called.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Stop is called.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  s.opts.IdleTimeout,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	s.log.WithField("addr", ln.Addr().String()).Info("HTTP server listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server and waits for open sessions to end.
// Sessions end when the hub closes them.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-shutdownCtx.Done():
		return fmt.Errorf("sessions still open: %w", shutdownCtx.Err())
	}
}
