package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kiosk-device/cardhub/internal/analytics"
	"github.com/kiosk-device/cardhub/internal/api"
	"github.com/kiosk-device/cardhub/internal/audit"
	"github.com/kiosk-device/cardhub/internal/auth"
	"github.com/kiosk-device/cardhub/internal/command"
	"github.com/kiosk-device/cardhub/internal/config"
	"github.com/kiosk-device/cardhub/internal/device/sim"
	"github.com/kiosk-device/cardhub/internal/events"
	"github.com/kiosk-device/cardhub/internal/hub"
	"github.com/kiosk-device/cardhub/internal/lifecycle"
	"github.com/kiosk-device/cardhub/internal/logging"
	"github.com/kiosk-device/cardhub/internal/metrics"
	"github.com/kiosk-device/cardhub/internal/services"
)

const stopTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the card reader service (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfgFile)
		},
	}
}

func runServe(parent context.Context, cfgPath string) error {
	if parent == nil {
		parent = context.Background()
	}

	// Step 1: Load configuration
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer func() { _ = logger.Close() }()
	log := logger.Component("main")
	log.WithField("version", config.Version).Info("Starting card reader service")

	// Step 2: Initialize audit logger and metrics
	auditLogger, err := audit.NewLogger(cfg.Audit.Dir, audit.Options{
		MaxSizeMB:  cfg.Audit.MaxSizeMB,
		MaxBackups: cfg.Audit.MaxBackups,
	}, logger.Component("audit"))
	if err != nil {
		return fmt.Errorf("failed to initialize audit logger: %w", err)
	}
	defer func() {
		if err := auditLogger.Close(); err != nil {
			log.WithError(err).Warn("Error closing audit logger")
		}
	}()
	log.WithField("file", auditLogger.FilePath()).Info("Audit logger initialized")

	var recorder *metrics.Recorder
	if cfg.Metrics.Enabled {
		recorder = metrics.NewRecorder()
	}

	// Step 3: Open the card reader
	reader, err := openReader(cfg.Device, logger.Component("device"))
	if err != nil {
		return err
	}
	log.WithField("simulated", cfg.Device.UseSimulator).Info("Card reader opened")

	// Step 4: Session hub and command orchestrator
	gateway := events.NewGateway(logger.Component("events"))
	sessions := hub.NewHub(cfg.Timing.SessionBuffer, gateway, logger.Component("hub"))
	orchestrator := command.NewOrchestrator(reader, gateway, logger.Component("command"))
	orchestrator.SetAuditLogger(auditLogger)
	orchestrator.SetVersion(config.Version)
	if recorder != nil {
		sessions.SetSessionGauge(recorder)
		orchestrator.SetMetrics(recorder)
	}

	// Step 5: Back-office services
	wireServices(cfg, orchestrator, reader, logger.Component("services"))

	reader.SetNotifier(sessions)
	reader.StartHealthTimer()

	// Step 6: Lifecycle, analytics and auth
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lc := lifecycle.New(sessions, stop, cfg.Timing.CanShutDownWait, cfg.Timing.ShutDownDelay,
		logger.Component("lifecycle"))

	tracker := newTracker(cfg, logger.Component("analytics"))
	defer tracker.Close()
	tracker.Track(analytics.ServiceStarting, map[string]string{"version": config.Version})

	var authMW *auth.Middleware
	if cfg.Auth.Enabled {
		verifier, err := auth.NewVerifier(auth.VerifierConfig{
			HMACSecret:   cfg.Auth.HMACSecret,
			PublicKeyPEM: cfg.Auth.RSAPublicKeyPEM,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize auth: %w", err)
		}
		authMW = auth.NewMiddleware(verifier)
		log.Info("Session authentication enabled")
	}

	// Step 7: Start HTTP server
	deps := api.Deps{
		Commands:  orchestrator,
		Sessions:  sessions,
		Device:    reader,
		Gateway:   gateway,
		Lifecycle: lc,
		Analytics: tracker,
		Auth:      authMW,
	}
	if recorder != nil {
		deps.Metrics = recorder.Handler()
	}
	server := api.NewServer(deps, api.Options{
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		WriteWait:    cfg.Timing.WSWriteWait,
		PongWait:     cfg.Timing.WSPongWait,
		PingPeriod:   cfg.Timing.WSPingPeriod,
		MetricsPath:  cfg.Metrics.Path,
		Version:      config.Version,
	}, logger.Component("api"))

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.Server.Addr); err != nil {
			serverErr <- err
		}
	}()

	// Step 8: Hot reload of the log level
	if path := configPath(cfgPath); path != "" {
		watcher, err := config.Watch(path, func(next *config.Config) {
			if err := logger.ApplyLevel(next.Log.Level); err != nil {
				log.WithError(err).Warn("Failed to apply log level")
			}
		}, logger.Component("config"))
		if err != nil {
			log.WithError(err).Warn("Config hot reload disabled")
		} else {
			defer func() { _ = watcher.Close() }()
		}
	}

	tracker.Track(analytics.ServiceStarted, nil)
	log.WithField("addr", cfg.Server.Addr).Info("Card reader service started")

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received, stopping")
	case runErr = <-serverErr:
		log.WithError(runErr).Error("HTTP server failed")
	}

	// Graceful shutdown
	tracker.Track(analytics.ServiceStopping, nil)
	reader.StopHealthTimer()

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	sessions.Close()
	if err := server.Stop(stopCtx); err != nil {
		log.WithError(err).Warn("Error stopping HTTP server")
	} else {
		log.Info("HTTP server stopped gracefully")
	}

	select {
	case <-orchestrator.Stop():
		log.Info("Command worker stopped")
	case <-stopCtx.Done():
		log.Warn("Command worker did not stop in time")
	}

	tracker.Track(analytics.ServiceStopped, nil)
	log.Info("Card reader service shutdown complete")
	return runErr
}

// openReader returns the configured reader. Only the simulator ships with
// this build.
func openReader(cfg config.DeviceConfig, log *logrus.Entry) (*sim.Simulator, error) {
	if !cfg.UseSimulator {
		return nil, errors.New("no card reader driver is available in this build; set device.useSimulator")
	}
	scenario := sim.DefaultScenario()
	if cfg.SimulatorFile != "" {
		loaded, err := sim.LoadScenario(cfg.SimulatorFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load simulator scenario: %w", err)
		}
		scenario = loaded
	}
	reader := sim.New(scenario, log)
	reader.SetHealthInterval(cfg.HealthInterval)
	return reader, nil
}

func wireServices(cfg *config.Config, o *command.Orchestrator, reader *sim.Simulator, log *logrus.Entry) {
	httpSvc := services.NewHTTPService(&http.Client{}, log)

	o.SetActivationService(services.NewActivationService(
		services.NewBluefinClient(httpSvc),
		reader,
		services.ActivationRequest{
			KioskID:           cfg.Services.KioskID,
			BluefinServiceURL: cfg.Services.BluefinURL,
			APIKey:            cfg.Services.BluefinAPIKey,
			TimeoutMillis:     int(cfg.Timing.ServiceTimeout.Milliseconds()),
		},
		log,
	))

	if cfg.Services.KDSURL == "" {
		log.Info("KDS not configured, device status reporting disabled")
		return
	}
	kds := services.NewKDSClient(httpSvc, services.KDSConfig{
		URL:     cfg.Services.KDSURL,
		APIKey:  cfg.Services.KDSAPIKey,
		KioskID: cfg.Services.KioskID,
		Timeout: cfg.Timing.ServiceTimeout,
	}, log)
	o.SetDeviceStatusService(services.NewDeviceStatusService(kds, reader, config.Version, log))
}

// newTracker falls back to log-only analytics when the broker is unreachable.
func newTracker(cfg *config.Config, log *logrus.Entry) *analytics.Tracker {
	tracker, err := analytics.New(cfg.Analytics, cfg.Services.KioskID, log)
	if err == nil {
		return tracker
	}
	log.WithError(err).Warn("Analytics broker unavailable, logging events only")
	return analytics.NewWithPublisher(nil, cfg.Analytics.MQTTTopic, cfg.Services.KioskID, log)
}

func configPath(flag string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv(config.ConfigPathEnv)
}
