// Package listener runs the capture ports.
//
// A Manager owns one Session per bound port. Every request on any port goes
// through the same pipeline:
//
//	decoder.FromHTTP -> decoder.Decode -> formatter.Format (reply)
//	                                   -> observer.Registry.Notify
//
// Usage:
//
//	mgr := listener.NewManager(listener.FromConfig(cfg.Listener), logger)
//	if err := mgr.Start(ctx, []int{8080, 8081}, observers, false); err != nil {
//	    // one or more *listener.BindError
//	}
//	defer mgr.CloseAll(context.Background())
package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sirosfoundation/go-http-capture/internal/decoder"
	"github.com/sirosfoundation/go-http-capture/internal/formatter"
	"github.com/sirosfoundation/go-http-capture/internal/observer"
	"github.com/sirosfoundation/go-http-capture/pkg/config"
	"github.com/sirosfoundation/go-http-capture/pkg/middleware"
)

// Config holds the capture listener settings
type Config struct {
	Host string

	// ClosePause is slept between two port closes in CloseAll
	ClosePause time.Duration
	// ShutdownTimeout bounds the graceful close of a session that was
	// cancelled through the Start context
	ShutdownTimeout time.Duration

	// SuppressPaths are answered but not notified to observers
	SuppressPaths []string
	Decoder       decoder.Options

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// CORS is applied to capture routers when non-nil
	CORS *cors.Config
}

// DefaultConfig returns the listener defaults
func DefaultConfig() *Config {
	return &Config{
		Host:            "127.0.0.1",
		ClosePause:      100 * time.Millisecond,
		ShutdownTimeout: 5 * time.Second,
		SuppressPaths:   []string{"/favicon.ico"},
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
	}
}

// FromConfig converts the application listener section
func FromConfig(c config.ListenerConfig) *Config {
	cfg := DefaultConfig()
	cfg.Host = c.Host
	cfg.ClosePause = c.ClosePause()
	cfg.SuppressPaths = c.SuppressPaths
	cfg.Decoder = decoder.Options{Strict: c.StrictPairs}
	cfg.ReadTimeout = time.Duration(c.ReadTimeout) * time.Second
	cfg.WriteTimeout = time.Duration(c.WriteTimeout) * time.Second
	cfg.IdleTimeout = time.Duration(c.IdleTimeout) * time.Second

	if c.CORS.Enabled {
		cfg.CORS = &cors.Config{
			AllowOrigins:     c.CORS.AllowedOrigins,
			AllowMethods:     c.CORS.AllowedMethods,
			AllowHeaders:     c.CORS.AllowedHeaders,
			ExposeHeaders:    c.CORS.ExposedHeaders,
			AllowCredentials: c.CORS.AllowCredentials,
			MaxAge:           time.Duration(c.CORS.MaxAge) * time.Second,
		}
	}
	return cfg
}

// Manager owns the open listening sessions
type Manager struct {
	cfg      *Config
	logger   *zap.Logger
	registry *observer.Registry

	mu       sync.Mutex
	sessions map[int]*Session
}

// NewManager creates a new listener manager
func NewManager(cfg *Config, logger *zap.Logger) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("listener")
	return &Manager{
		cfg:      cfg,
		logger:   logger,
		registry: observer.NewRegistry(logger),
		sessions: make(map[int]*Session),
	}
}

// Start replaces the observer set, binds every port and serves each on its
// own goroutine. Ports that fail to bind are reported as *BindError values
// combined with multierr; ports that did bind keep serving.
//
// Port 0 binds an ephemeral port; Sessions reports the actual number.
//
// With blocking set, Start returns once every port started by this call has
// stopped. Cancelling ctx closes those ports.
func (m *Manager) Start(ctx context.Context, ports []int, observers []observer.Observer, blocking bool) error {
	m.registry.Register(observers...)

	var bindErrs error
	started := make([]*Session, 0, len(ports))
	for _, port := range ports {
		s, err := m.bind(port)
		if err != nil {
			m.logger.Error("Failed to bind capture port", zap.Int("port", port), zap.Error(err))
			bindErrs = multierr.Append(bindErrs, err)
			continue
		}
		started = append(started, s)
	}

	g := new(errgroup.Group)
	for _, s := range started {
		s := s
		g.Go(func() error { return m.serve(s) })
		go m.watch(ctx, s)
	}

	if bindErrs != nil {
		return bindErrs
	}

	if blocking {
		return g.Wait()
	}
	return nil
}

// CloseAll closes every open session. Close errors are logged and combined;
// they never stop the remaining sessions from closing. Calling CloseAll on a
// manager with no open sessions is a no-op.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	sort.Slice(open, func(i, j int) bool { return open[i].Port < open[j].Port })

	if len(open) > 0 {
		m.logger.Info("Closing capture ports", zap.Int("count", len(open)))
	}

	var errs error
	for i, s := range open {
		if i > 0 && m.cfg.ClosePause > 0 {
			select {
			case <-time.After(m.cfg.ClosePause):
			case <-ctx.Done():
			}
		}
		if err := m.closeSession(ctx, s); err != nil {
			m.logger.Warn("Failed to close capture port", zap.Int("port", s.Port), zap.Error(err))
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// Sessions returns a snapshot of the open sessions ordered by port
func (m *Manager) Sessions() []SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		infos = append(infos, s.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Port < infos[j].Port })
	return infos
}

// Ports returns the open ports in ascending order
func (m *Manager) Ports() []int {
	infos := m.Sessions()
	ports := make([]int, len(infos))
	for i, info := range infos {
		ports[i] = info.Port
	}
	return ports
}

// Registry returns the observer registry used for notifications
func (m *Manager) Registry() *observer.Registry {
	return m.registry
}

func (m *Manager) bind(port int) (*Session, error) {
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(port))

	m.mu.Lock()
	_, exists := m.sessions[port]
	m.mu.Unlock()
	if exists && port != 0 {
		return nil, &BindError{Port: port, Addr: addr, Err: ErrSessionExists}
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &BindError{Port: port, Addr: addr, Err: err}
	}

	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		port = tcp.Port
	}

	s := &Session{
		Port:      port,
		Addr:      ln.Addr().String(),
		StartedAt: time.Now(),
		state:     StateUnbound,
		ln:        recordingListener{Listener: ln},
		done:      make(chan struct{}),
	}
	s.server = &http.Server{
		Handler:      withRawHeaders(m.buildRouter(s)),
		ConnContext:  connContext,
		ReadTimeout:  m.cfg.ReadTimeout,
		WriteTimeout: m.cfg.WriteTimeout,
		IdleTimeout:  m.cfg.IdleTimeout,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[port]; exists {
		_ = ln.Close()
		return nil, &BindError{Port: port, Addr: addr, Err: ErrSessionExists}
	}
	s.state = StateListening
	m.sessions[port] = s
	return s, nil
}

func (m *Manager) serve(s *Session) error {
	defer close(s.done)

	m.logger.Info("Capture port listening", zap.Int("port", s.Port), zap.String("address", s.Addr))
	err := s.server.Serve(s.ln)

	m.mu.Lock()
	s.state = StateClosed
	if m.sessions[s.Port] == s {
		delete(m.sessions, s.Port)
	}
	m.mu.Unlock()

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		m.logger.Error("Capture port stopped", zap.Int("port", s.Port), zap.Error(err))
		return fmt.Errorf("port %d: %w", s.Port, err)
	}
	m.logger.Info("Capture port closed", zap.Int("port", s.Port))
	return nil
}

// watch closes s when ctx is cancelled, unless s stops first.
func (m *Manager) watch(ctx context.Context, s *Session) {
	select {
	case <-ctx.Done():
		closeCtx, cancel := context.WithTimeout(context.Background(), m.cfg.ShutdownTimeout)
		defer cancel()
		if err := m.closeSession(closeCtx, s); err != nil {
			m.logger.Warn("Failed to close capture port", zap.Int("port", s.Port), zap.Error(err))
		}
	case <-s.done:
	}
}

func (m *Manager) closeSession(ctx context.Context, s *Session) error {
	m.mu.Lock()
	if s.state == StateClosed {
		m.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	if m.sessions[s.Port] == s {
		delete(m.sessions, s.Port)
	}
	m.mu.Unlock()

	if err := s.server.Shutdown(ctx); err != nil {
		_ = s.server.Close()
		return fmt.Errorf("port %d: %w", s.Port, err)
	}
	return nil
}

// buildRouter creates the catch-all capture router for one session
func (m *Manager) buildRouter(s *Session) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(m.logger))
	if m.cfg.CORS != nil {
		router.Use(cors.New(*m.cfg.CORS))
	}
	router.NoRoute(m.capture(s))
	return router
}

func (m *Manager) capture(s *Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.requests.Add(1)

		in, err := decoder.FromHTTP(c.Request)
		if err != nil {
			m.reject(c, s, err)
			return
		}

		req, err := decoder.Decode(in, m.cfg.Decoder)
		if err != nil {
			m.reject(c, s, err)
			return
		}
		req.ID = uuid.NewString()
		req.Port = s.Port
		req.ReceivedAt = time.Now().UTC()

		contentType, body := formatter.Format(req)
		c.Data(http.StatusOK, contentType, body)
		c.Writer.Flush()

		if m.suppressed(req.Path) {
			m.logger.Debug("Suppressed capture notification",
				zap.Int("port", s.Port), zap.String("path", req.Path))
			return
		}

		m.registry.Notify(context.WithoutCancel(c.Request.Context()), req)
	}
}

func (m *Manager) reject(c *gin.Context, s *Session, err error) {
	m.logger.Warn("Failed to decode request",
		zap.Int("port", s.Port),
		zap.String("target", c.Request.RequestURI),
		zap.Error(err))
	contentType, body := formatter.Format(err)
	c.Data(http.StatusBadRequest, contentType, body)
}

func (m *Manager) suppressed(path string) bool {
	for _, p := range m.cfg.SuppressPaths {
		if p == path {
			return true
		}
	}
	return false
}
