// Package server runs the admin HTTP server next to the capture ports.
//
// The admin server exposes /health and /status without authentication and
// every other route behind a bearer token:
//
//	GET    /sessions
//	GET    /captures
//	GET    /captures/:id
//	DELETE /captures
//	GET    /captures/stream   (WebSocket)
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-http-capture/internal/api"
	"github.com/sirosfoundation/go-http-capture/pkg/config"
	"github.com/sirosfoundation/go-http-capture/pkg/middleware"
)

// ServerConfig holds admin server configuration
type ServerConfig struct {
	Address    string
	Port       int
	AdminToken string

	RateLimit config.AuthRateLimitConfig
	// CORS is applied when non-nil
	CORS *config.CORSConfig
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address: "127.0.0.1",
		Port:    9090,
	}
}

// FromConfig builds the admin server configuration
func FromConfig(cfg *config.Config) *ServerConfig {
	sc := &ServerConfig{
		Address:    cfg.Admin.Host,
		Port:       cfg.Admin.Port,
		AdminToken: cfg.Admin.Token,
		RateLimit:  cfg.Admin.RateLimit,
	}
	if cfg.Listener.CORS.Enabled {
		corsCfg := cfg.Listener.CORS
		sc.CORS = &corsCfg
	}
	return sc
}

// Manager manages the admin HTTP server
type Manager struct {
	cfg      *ServerConfig
	logger   *zap.Logger
	handlers *api.AdminHandlers

	token       string
	router      *gin.Engine
	adminServer *http.Server
	ln          net.Listener
	done        chan struct{}
}

// NewManager creates a new admin server manager
func NewManager(cfg *ServerConfig, handlers *api.AdminHandlers, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:      cfg,
		logger:   logger.Named("admin"),
		handlers: handlers,
	}
}

// Start builds the router, binds the admin port and serves in the background
func (m *Manager) Start(ctx context.Context) error {
	token := m.cfg.AdminToken
	if token == "" {
		var err error
		token, err = middleware.GenerateAdminToken()
		if err != nil {
			return fmt.Errorf("failed to generate admin token: %w", err)
		}
		m.logger.Info("Generated admin API token (set CAPTURE_ADMIN_TOKEN to use a fixed token)",
			zap.String("token", token))
	}
	m.token = token
	m.router = m.buildRouter()

	adminAddr := net.JoinHostPort(m.cfg.Address, fmt.Sprint(m.cfg.Port))
	ln, err := net.Listen("tcp", adminAddr)
	if err != nil {
		return fmt.Errorf("failed to bind admin server on %s: %w", adminAddr, err)
	}
	m.ln = ln

	m.adminServer = &http.Server{
		Handler:      m.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	m.done = make(chan struct{})
	go func() {
		defer close(m.done)
		m.logger.Info("Admin server listening", zap.String("address", ln.Addr().String()))
		if err := m.adminServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("Admin server error", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the admin server
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.adminServer == nil {
		return nil
	}

	var errs error
	if err := m.adminServer.Shutdown(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("admin server shutdown: %w", err))
		errs = multierr.Append(errs, m.adminServer.Close())
	}
	<-m.done
	return errs
}

// Addr returns the bound admin address, or "" before Start
func (m *Manager) Addr() string {
	if m.ln == nil {
		return ""
	}
	return m.ln.Addr().String()
}

// Token returns the bearer token in use
func (m *Manager) Token() string {
	return m.token
}

// Router returns the admin router. Only valid after Start.
func (m *Manager) Router() *gin.Engine {
	return m.router
}

// buildRouter creates the admin router with common middleware
func (m *Manager) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(m.logger))
	if m.cfg.CORS != nil {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     m.cfg.CORS.AllowedOrigins,
			AllowMethods:     m.cfg.CORS.AllowedMethods,
			AllowHeaders:     m.cfg.CORS.AllowedHeaders,
			ExposeHeaders:    m.cfg.CORS.ExposedHeaders,
			AllowCredentials: m.cfg.CORS.AllowCredentials,
			MaxAge:           time.Duration(m.cfg.CORS.MaxAge) * time.Second,
		}))
	}

	m.addStatusEndpoints(router)

	rl := middleware.NewAuthRateLimiter(m.cfg.RateLimit, m.logger)
	protected := router.Group("/")
	protected.Use(middleware.AuthRateLimitMiddleware(rl))
	protected.Use(middleware.AdminAuthMiddleware(m.token, rl, m.logger))
	{
		protected.GET("/sessions", m.handlers.ListSessions)
		protected.GET("/captures", m.handlers.ListCaptures)
		protected.DELETE("/captures", m.handlers.ClearCaptures)
		protected.GET("/captures/stream", m.handlers.Stream)
		protected.GET("/captures/:id", m.handlers.GetCapture)
	}

	return router
}

// addStatusEndpoints adds /health and /status routes
func (m *Manager) addStatusEndpoints(router *gin.Engine) {
	router.GET("/health", m.handlers.Status)
	router.GET("/status", m.handlers.Status)
}
