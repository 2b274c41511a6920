// Package main provides the capture-listener command: it opens one or more
// capture ports, echoes every request back as JSON and hands it to the
// configured observers.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-http-capture/internal/api"
	"github.com/sirosfoundation/go-http-capture/internal/listener"
	"github.com/sirosfoundation/go-http-capture/internal/server"
	"github.com/sirosfoundation/go-http-capture/pkg/config"
	"github.com/sirosfoundation/go-http-capture/pkg/logging"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

type options struct {
	configFile string
	ports      []int
	host       string
	observers  []string
	admin      bool
	noColor    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "capture-listener",
		Short: "Capture and echo HTTP requests on one or more ports",
		Long: `capture-listener opens a plain HTTP listener on every requested port.
Each request is decoded, answered with its own JSON rendering and passed
to the enabled observers (console, log, history, stream).

Examples:
  # Capture on two ports and print to the terminal
  capture-listener --port 8080 --port 8081

  # Keep history and expose the admin API
  capture-listener --port 8080 --observer console --observer history --admin`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, opts)
		},
	}

	bindFlags(cmd, opts)
	return cmd
}

func bindFlags(cmd *cobra.Command, opts *options) {
	flags := cmd.Flags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "Path to configuration file")
	flags.IntSliceVarP(&opts.ports, "port", "p", nil, "Port to capture on (repeatable)")
	flags.StringVar(&opts.host, "host", "", "Interface to bind the capture ports on")
	flags.StringSliceVar(&opts.observers, "observer", nil, "Observer to enable: console, log, history, stream (repeatable)")
	flags.BoolVar(&opts.admin, "admin", false, "Enable the admin API")
	flags.BoolVar(&opts.noColor, "no-color", false, "Disable colored console output")
}

// loadConfig reads the config file and environment, then applies flags that were set
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Listener.Ports = opts.ports
	}
	if flags.Changed("host") {
		cfg.Listener.Host = opts.host
	}
	if flags.Changed("observer") {
		cfg.Observers = opts.observers
	}
	if flags.Changed("admin") {
		cfg.Admin.Enabled = opts.admin
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config, opts *options) error {
	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		log.Printf("Failed to initialize logger: %v", err)
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	logger.Info("Starting capture listener",
		zap.String("version", version),
		zap.String("build_time", buildTime),
		zap.Ints("ports", cfg.Listener.Ports),
		zap.Strings("observers", cfg.Observers),
	)

	if ctx == nil {
		ctx = context.Background()
	}

	set, err := buildObservers(ctx, cfg, os.Stdout, opts.noColor, logger)
	if err != nil {
		logger.Error("Failed to initialize observers", zap.Error(err))
		return err
	}
	defer func() {
		if err := set.Close(); err != nil {
			logger.Warn("Failed to close observers", zap.Error(err))
		}
	}()

	mgr := listener.NewManager(listener.FromConfig(cfg.Listener), logger)
	if err := mgr.Start(ctx, cfg.Listener.Ports, set.Observers, false); err != nil {
		logger.Error("Failed to open capture ports", zap.Error(err))
		_ = mgr.CloseAll(context.Background())
		return err
	}

	var adminSrv *server.Manager
	if cfg.Admin.Enabled {
		handlers := api.NewAdminHandlers(mgr, set.Store, set.Hub, logger)
		adminSrv = server.NewManager(server.FromConfig(cfg), handlers, logger)
		if err := adminSrv.Start(ctx); err != nil {
			logger.Error("Failed to start admin server", zap.Error(err))
			_ = mgr.CloseAll(context.Background())
			return err
		}
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
	case <-ctx.Done():
	}

	logger.Info("Shutting down capture listener...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err = mgr.CloseAll(shutdownCtx)
	if adminSrv != nil {
		err = multierr.Append(err, adminSrv.Shutdown(shutdownCtx))
	}
	if err != nil {
		logger.Error("Shutdown finished with errors", zap.Error(err))
		return err
	}

	logger.Info("Capture listener exited")
	return nil
}
