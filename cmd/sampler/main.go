// cmd/sampler/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"dmm-service/internal/config"
	"dmm-service/internal/discovery"
	"dmm-service/internal/discovery/serial"
	"dmm-service/internal/driver"
	"dmm-service/internal/driver/keysight"
	"dmm-service/internal/export"
	"dmm-service/internal/model"
	"dmm-service/internal/sampler"
	"dmm-service/internal/utils"
)

// flagBindings maps command line flags onto configuration keys
var flagBindings = map[string]string{
	"mode":          "sampling.mode",
	"tick":          "sampling.tick_interval",
	"duration":      "sampling.duration",
	"range":         "sampling.range",
	"resolution":    "sampling.resolution",
	"trigger":       "sampling.trigger",
	"settle":        "sampling.settle_delay",
	"on-read-error": "sampling.read_error_policy",
	"driver":        "serial.driver",
	"format":        "export.format",
	"log-level":     "logging.level",
}

// options holds the flags that are not configuration keys
type options struct {
	configPath string
	ports      []string
	output     string
	header     bool
	listPorts  bool
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "dmm-sampler: %v\n", err)
		os.Exit(1)
	}
}

func newFlagSet(opts *options) *pflag.FlagSet {
	fs := pflag.NewFlagSet("dmm-sampler", pflag.ContinueOnError)

	fs.StringVarP(&opts.configPath, "config", "c", "", "path to the configuration file")
	fs.StringSliceVarP(&opts.ports, "ports", "p", nil, "serial ports to sample, in column order (default: discover)")
	fs.StringVarP(&opts.output, "output", "o", "", "data file to write (default: <export.directory>/<run id>.<format>)")
	fs.BoolVar(&opts.header, "header", false, "write a CSV header row")
	fs.BoolVar(&opts.listPorts, "list-ports", false, "list discovered ports and exit")

	fs.StringP("mode", "m", "DCV", "measurement mode: DCV, ACV, DCI, ACI, RES2, RES4, FREQ, PER")
	fs.Duration("tick", 500*time.Millisecond, "pause between ticks")
	fs.Duration("duration", 10000*time.Second, "run length")
	fs.String("range", model.KeywordAuto, "range keyword or number, or a comma separated list with one value per device")
	fs.String("resolution", "0.001", "resolution keyword or number")
	fs.String("trigger", "", "trigger source sent after configuration: IMM, BUS or EXT")
	fs.Duration("settle", sampler.DefaultSettleDelay, "pause between configuration and the first tick")
	fs.String("on-read-error", string(sampler.PolicyStop), "read failure policy: stop or skip")
	fs.String("driver", "34401a", "instrument driver: 34401a or simulated")
	fs.StringP("format", "f", "csv", "output format: csv or npy")
	fs.String("log-level", "info", "log level")

	return fs
}

// loadConfig layers flags over the configuration file, the environment and the defaults
func loadConfig(fs *pflag.FlagSet, configPath string) (*config.Config, error) {
	v := viper.New()

	for name, key := range flagBindings {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return config.FromViper(v)
}

func run(args []string) error {
	var opts options
	fs := newFlagSet(&opts)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(fs, opts.configPath)
	if err != nil {
		return err
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer utils.CloseLogger(logger)

	scanners := discovery.NewScannerManager(logger)
	scanners.RegisterScanner(serial.NewScanner(logger, serial.Config{
		DescriptionFilters: cfg.Discovery.DescriptionFilters,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.listPorts {
		for _, ep := range scanners.Discover(ctx) {
			fmt.Printf("%s\t%s\t%s\n", ep.Name, ep.Description, ep.SerialNumber)
		}
		return nil
	}

	return sample(ctx, cfg, opts, scanners, logger)
}

// sample runs one sampling session and writes whatever it collected
func sample(ctx context.Context, cfg *config.Config, opts options, scanners *discovery.ScannerManager, logger *zap.Logger) error {
	params, err := cfg.Sampling.Params()
	if err != nil {
		return err
	}

	format, err := export.ParseFormat(cfg.Export.Format)
	if err != nil {
		return err
	}

	keysightOpts := keysight.DefaultOptions()
	keysightOpts.Serial = cfg.Serial.LineSettings()
	keysightOpts.ReadTimeout = cfg.Serial.ReadTimeout
	keysightOpts.OpenSettle = cfg.Serial.OpenSettle

	drivers := driver.NewRegistry(logger)
	driver.RegisterDefaultDrivers(drivers, keysightOpts, cfg.Serial.SimulationNoise, logger)
	opener, err := drivers.Opener(cfg.Serial.Driver)
	if err != nil {
		return err
	}

	var scanner discovery.PortScanner = scanners
	if len(opts.ports) > 0 {
		scanner = discovery.NewStaticScanner(opts.ports...)
	}

	registry := driver.NewDeviceRegistry(scanner, opener, logger)
	defer func() {
		if err := registry.Close(); err != nil {
			logger.Warn("Failed to close instruments", zap.Error(err))
		}
	}()

	instruments, err := registry.CreateAll(ctx)
	if err != nil {
		return err
	}
	if len(instruments) == 0 {
		return errors.New("no instruments found")
	}

	session := &model.Session{
		ID:        uuid.New(),
		Params:    params,
		Status:    model.SessionStatusRunning,
		StartedAt: time.Now(),
	}
	for _, inst := range instruments {
		session.Devices = append(session.Devices, inst.Name())
	}

	sessionLogger := utils.NewSessionLogger(logger, session.ID.String())
	sessionLogger.Start(
		zap.Stringer("mode", params.Mode),
		zap.Strings("devices", session.Devices),
		zap.Duration("tick_interval", params.TickInterval),
		zap.Duration("duration", params.Duration),
	)

	runner := sampler.New(sampler.Config{
		SettleDelay:     cfg.Sampling.SettleDelay,
		ReadErrorPolicy: sampler.ReadErrorPolicy(cfg.Sampling.ReadErrorPolicy),
	}, logger)

	matrix, runErr := runner.Run(ctx, sampler.Request{
		Mode:         params.Mode,
		Instruments:  instruments,
		TickInterval: params.TickInterval,
		Duration:     params.Duration,
		Range:        params.Range,
		Resolution:   params.Resolution,
		Trigger:      params.Trigger,
	}, func(tick int, s model.Sample) {
		logger.Info("Sample", zap.Int("tick", tick), zap.String("row", s.String()))
	})

	completedAt := time.Now()
	session.CompletedAt = &completedAt
	switch {
	case runErr != nil:
		session.Status = model.SessionStatusFailed
		msg := runErr.Error()
		session.ErrorMessage = &msg
		sessionLogger.Error(runErr)
	case ctx.Err() != nil:
		session.Status = model.SessionStatusCancelled
		sessionLogger.Success(zap.String("status", "cancelled"))
	default:
		session.Status = model.SessionStatusCompleted
		sessionLogger.Success()
	}

	if matrix == nil {
		return runErr
	}
	session.Matrix = matrix
	session.Rows = matrix.Rows()

	exporter := export.NewExporter(cfg.Export.Directory, format, logger)
	exporter.SetCSVHeader(opts.header)

	var dataPath string
	if opts.output != "" {
		dataPath, _, err = exporter.ExportTo(session, opts.output)
	} else {
		dataPath, _, err = exporter.Export(session)
	}
	if err != nil {
		return err
	}

	logger.Info("Data written", zap.String("path", dataPath), zap.Int("rows", session.Rows))
	return runErr
}
