// internal/sampler/sampler.go
package sampler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dmm-service/internal/model"
	"dmm-service/pkg/driver"
)

// DefaultSettleDelay is the pause between configuring the instruments and the first tick
const DefaultSettleDelay = 2 * time.Second

// ReadErrorPolicy decides what a failed read does to the run
type ReadErrorPolicy string

const (
	// PolicyStop ends the run and returns the rows collected so far with a *model.ReadError
	PolicyStop ReadErrorPolicy = "stop"
	// PolicySkip drops the failing tick and keeps sampling
	PolicySkip ReadErrorPolicy = "skip"
)

// Config holds sampler settings shared by every run
type Config struct {
	SettleDelay     time.Duration
	ReadErrorPolicy ReadErrorPolicy
}

// DefaultConfig returns a 2 s settle delay and the stop policy
func DefaultConfig() Config {
	return Config{
		SettleDelay:     DefaultSettleDelay,
		ReadErrorPolicy: PolicyStop,
	}
}

// Request describes one sampling run
type Request struct {
	Mode         model.MeasurementMode
	Instruments  []driver.Instrument
	TickInterval time.Duration
	Duration     time.Duration
	Range        model.RangeSpec
	Resolution   model.Scalar
	// Trigger is sent after configuration when not empty
	Trigger model.TriggerSource
}

// Observer is called after every appended row. tick counts rows from 1.
type Observer func(tick int, sample model.Sample)

// Sampler configures a set of instruments and polls them at a fixed interval
type Sampler struct {
	config Config
	logger *zap.Logger
}

// New creates a sampler
func New(config Config, logger *zap.Logger) *Sampler {
	if config.ReadErrorPolicy == "" {
		config.ReadErrorPolicy = PolicyStop
	}
	return &Sampler{
		config: config,
		logger: logger.With(zap.String("component", "sampler")),
	}
}

// Run configures every instrument, waits for them to settle and then reads
// them in order once per tick until Duration has elapsed.
//
// Cancelling ctx ends the run after the current tick and returns the rows
// collected so far with a nil error, even when it happens before the first
// tick. Configuration and reads in progress are never interrupted, so every
// returned row is complete. A failed read ends the run
// with the rows collected so far and a *model.ReadError, unless the skip
// policy is configured.
func (s *Sampler) Run(ctx context.Context, req Request, observer Observer) (*model.Matrix, error) {
	ranges, err := validate(req)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(req.Instruments))
	for i, inst := range req.Instruments {
		names[i] = inst.Name()
	}
	matrix := model.NewMatrix(names)

	// device I/O is never interrupted by cancellation
	ioCtx := context.WithoutCancel(ctx)

	if err := s.configure(ioCtx, req, ranges); err != nil {
		return nil, err
	}

	if ctx.Err() != nil {
		s.logger.Info("Run cancelled during configuration")
		return matrix, nil
	}

	s.logger.Info("Instruments configured, settling",
		zap.Stringer("mode", req.Mode),
		zap.Strings("devices", names),
		zap.Duration("settle_delay", s.config.SettleDelay),
	)

	if !sleep(ctx, s.config.SettleDelay) {
		s.logger.Info("Run cancelled before the first tick")
		return matrix, nil
	}

	start := time.Now()
	var elapsed time.Duration
	attempt := 0

	for elapsed < req.Duration {
		if ctx.Err() != nil || !sleep(ctx, req.TickInterval) {
			s.logger.Info("Run cancelled", zap.Int("rows", matrix.Rows()))
			return matrix, nil
		}

		elapsed = time.Since(start)
		attempt++

		readings, err := s.readTick(ioCtx, req.Instruments, attempt)
		if err != nil {
			if s.config.ReadErrorPolicy == PolicySkip {
				s.logger.Warn("Dropping tick after read failure", zap.Error(err))
				continue
			}
			s.logger.Error("Run stopped by read failure",
				zap.Int("rows", matrix.Rows()),
				zap.Error(err),
			)
			return matrix, err
		}

		sample := model.Sample{Elapsed: elapsed.Seconds(), Readings: readings}
		if err := matrix.Append(sample); err != nil {
			return matrix, err
		}

		s.logger.Debug("Sample", zap.String("row", sample.String()))
		if observer != nil {
			observer(matrix.Rows(), sample)
		}
	}

	s.logger.Info("Run completed", zap.Int("rows", matrix.Rows()))
	return matrix, nil
}

// validate checks everything that can be checked without touching a device
func validate(req Request) ([]model.Scalar, error) {
	if !req.Mode.IsValid() {
		return nil, &model.ConfigError{Field: "mode", Value: req.Mode.String(), Reason: "unknown measurement mode"}
	}
	if req.Trigger != "" && !req.Trigger.IsValid() {
		return nil, &model.ConfigError{Field: "trigger", Value: string(req.Trigger), Reason: "expected IMM, BUS or EXT"}
	}
	if req.TickInterval < 0 || req.Duration < 0 {
		return nil, &model.ConfigError{Field: "timing", Value: fmt.Sprintf("%s/%s", req.TickInterval, req.Duration), Reason: "must not be negative"}
	}
	return req.Range.Resolve(len(req.Instruments))
}

func (s *Sampler) configure(ctx context.Context, req Request, ranges []model.Scalar) error {
	for i, inst := range req.Instruments {
		if err := inst.Configure(ctx, req.Mode, ranges[i], req.Resolution); err != nil {
			return fmt.Errorf("failed to configure %s: %w", inst.Name(), err)
		}
		if req.Trigger == "" {
			continue
		}
		if err := inst.SetTrigger(ctx, req.Trigger); err != nil {
			return fmt.Errorf("failed to set trigger on %s: %w", inst.Name(), err)
		}
	}
	return nil
}

// readTick reads every instrument in order; any failure discards the whole tick
func (s *Sampler) readTick(ctx context.Context, instruments []driver.Instrument, attempt int) ([]float64, error) {
	readings := make([]float64, len(instruments))
	for i, inst := range instruments {
		value, err := inst.ReadMeasurement(ctx)
		if err != nil {
			return nil, &model.ReadError{Tick: attempt, Device: i, Err: err}
		}
		readings[i] = value
	}
	return readings, nil
}

// sleep waits for d and reports false if ctx ended first
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
