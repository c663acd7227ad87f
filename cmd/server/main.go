// cmd/server/main.go
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

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"dmm-service/internal/config"
	"dmm-service/internal/discovery"
	"dmm-service/internal/discovery/serial"
	"dmm-service/internal/driver"
	"dmm-service/internal/driver/keysight"
	"dmm-service/internal/export"
	"dmm-service/internal/handler"
	"dmm-service/internal/repository"
	"dmm-service/internal/routes"
	"dmm-service/internal/sampler"
	"dmm-service/internal/service"
	"dmm-service/internal/utils"
)

// Application represents the main application
type Application struct {
	config *config.Config
	logger *zap.Logger
	server *http.Server
	router *routes.Router

	// Services
	sessionService   *service.SessionService
	discoveryService *service.DiscoveryService

	// Repositories
	sessionRepo repository.SessionRepository

	// Infrastructure
	driverRegistry *driver.Registry
	scanners       *discovery.ScannerManager
	ports          *service.PortGuard
	eventBus       *handler.EventBus

	stopBackground context.CancelFunc
}

// @title DMM Service API
// @version 1.0.0
// @description Sampling service for 34401A-compatible multimeters on serial lines
// @BasePath /
func main() {
	configPath := pflag.StringP("config", "c", "", "path to the configuration file")
	pflag.Parse()

	app, err := NewApplication(*configPath)
	if err != nil {
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Start(); err != nil {
		app.logger.Fatal("Failed to start application", zap.Error(err))
	}
}

// NewApplication creates a new application instance
func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	serviceLogger := utils.NewServiceLogger(logger, "dmm-service")
	serviceLogger.LogServiceStart(cfg.App.Version, cfg)

	app := &Application{
		config: cfg,
		logger: logger,
		ports:  &service.PortGuard{},
	}

	app.initializeRepositories()

	if err := app.initializeDriverRegistry(); err != nil {
		return nil, fmt.Errorf("failed to initialize driver registry: %w", err)
	}

	app.initializeScanners()

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initializeServer()

	return app, nil
}

// initializeRepositories creates repository instances
func (app *Application) initializeRepositories() {
	app.sessionRepo = repository.NewMemorySessionRepository(app.logger)
	app.logger.Info("Repositories initialized successfully")
}

// initializeDriverRegistry sets up the instrument driver registry
func (app *Application) initializeDriverRegistry() error {
	app.driverRegistry = driver.NewRegistry(app.logger)

	driver.RegisterDefaultDrivers(app.driverRegistry, app.driverOptions(), app.config.Serial.SimulationNoise, app.logger)

	if !app.driverRegistry.IsSupported(app.config.Serial.Driver) {
		return fmt.Errorf("driver %q is not registered", app.config.Serial.Driver)
	}

	app.logger.Info("Driver registry initialized successfully",
		zap.Strings("registered_drivers", app.driverRegistry.ListDrivers()),
		zap.String("selected_driver", app.config.Serial.Driver),
	)
	return nil
}

func (app *Application) driverOptions() keysight.Options {
	opts := keysight.DefaultOptions()
	opts.Serial = app.config.Serial.LineSettings()
	opts.ReadTimeout = app.config.Serial.ReadTimeout
	opts.OpenSettle = app.config.Serial.OpenSettle
	return opts
}

// initializeScanners sets up port discovery
func (app *Application) initializeScanners() {
	app.scanners = discovery.NewScannerManager(app.logger)
	app.scanners.RegisterScanner(serial.NewScanner(app.logger, serial.Config{
		DescriptionFilters: app.config.Discovery.DescriptionFilters,
	}))
}

// initializeServices creates service instances
func (app *Application) initializeServices() error {
	opener, err := app.driverRegistry.Opener(app.config.Serial.Driver)
	if err != nil {
		return err
	}

	defaults, err := app.config.Sampling.Params()
	if err != nil {
		return err
	}

	format, err := export.ParseFormat(app.config.Export.Format)
	if err != nil {
		return err
	}

	var exporter *export.Exporter
	if app.config.Export.Directory != "" {
		exporter = export.NewExporter(app.config.Export.Directory, format, app.logger)
	}

	sampleRunner := sampler.New(sampler.Config{
		SettleDelay:     app.config.Sampling.SettleDelay,
		ReadErrorPolicy: sampler.ReadErrorPolicy(app.config.Sampling.ReadErrorPolicy),
	}, app.logger)

	app.eventBus = handler.NewEventBus(app.logger)

	app.sessionService = service.NewSessionService(
		app.sessionRepo,
		app.scanners,
		opener,
		sampleRunner,
		exporter,
		app.eventBus,
		app.ports,
		defaults,
		app.logger,
	)

	app.discoveryService = service.NewDiscoveryService(
		app.scanners,
		app.driverRegistry,
		opener,
		app.ports,
		app.logger,
	)

	app.logger.Info("Services initialized successfully")
	return nil
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() {
	app.router = routes.NewRouter(
		app.config,
		app.logger,
		app.scanners,
		app.ports,
		app.eventBus,
		app.sessionService,
		app.discoveryService,
	)

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      app.router.SetupRouter(),
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized",
		zap.String("address", app.config.GetServerAddr()),
		zap.Bool("tls_enabled", app.config.Server.TLS.Enabled),
	)
}

// startBackgroundServices starts background services
func (app *Application) startBackgroundServices() {
	ctx, cancel := context.WithCancel(context.Background())
	app.stopBackground = cancel

	go app.eventBus.Start()

	if app.config.Sampling.Retention > 0 {
		go app.startCleanupService(ctx)
	}

	app.logger.Info("Background services started")
}

// startCleanupService drops finished sessions older than the retention period
func (app *Application) startCleanupService(ctx context.Context) {
	retention := app.config.Sampling.Retention
	interval := retention / 4
	if interval < time.Minute {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	app.logger.Info("Cleanup service started", zap.Duration("retention", retention))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := app.sessionService.DeleteOldSessions(ctx, time.Now().Add(-retention))
			if err != nil {
				app.logger.Error("Failed to cleanup old sessions", zap.Error(err))
			} else if deleted > 0 {
				app.logger.Info("Cleaned up old sessions", zap.Int("deleted", deleted))
			}
		}
	}
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown
func (app *Application) waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	app.shutdown()
}

// shutdown performs graceful shutdown
func (app *Application) shutdown() {
	serviceLogger := utils.NewServiceLogger(app.logger, "dmm-service")
	serviceLogger.LogServiceStop("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		app.logger.Info("HTTP server stopped")
	}

	// A running session is cancelled; its rows are kept and exported
	if err := app.sessionService.Shutdown(ctx); err != nil {
		app.logger.Error("Session shutdown error", zap.Error(err))
	}

	app.stopBackground()
	app.router.Close()
	app.eventBus.Stop()

	app.logger.Info("Application shutdown completed")

	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Printf("Logger close error: %v\n", err)
	}
}

// Start serves HTTP until a shutdown signal arrives
func (app *Application) Start() error {
	go func() {
		app.logger.Info("Starting HTTP server",
			zap.String("address", app.server.Addr),
		)

		var err error
		if app.config.Server.TLS.Enabled {
			err = app.server.ListenAndServeTLS(
				app.config.Server.TLS.CertFile,
				app.config.Server.TLS.KeyFile,
			)
		} else {
			err = app.server.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	app.startBackgroundServices()

	app.waitForShutdown()

	return nil
}
