// internal/driver/keysight/dmm_driver.go
package keysight

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"dmm-service/internal/model"
	"dmm-service/internal/protocol"
	"dmm-service/internal/utils"
	"dmm-service/pkg/driver"
)

// DefaultOpenSettle is the pause between opening the port and the first command
const DefaultOpenSettle = 500 * time.Millisecond

// Options controls how a DMM is opened
type Options struct {
	Serial      model.SerialConfig
	ReadTimeout time.Duration
	OpenSettle  time.Duration
	// PortOpener opens the underlying port; nil means a real serial port
	PortOpener protocol.Opener
}

// DefaultOptions returns the canonical 34401A line settings
func DefaultOptions() Options {
	return Options{
		Serial:      model.DefaultSerialConfig(),
		ReadTimeout: 5 * time.Second,
		OpenSettle:  DefaultOpenSettle,
	}
}

// DMM drives one 34401A-compatible multimeter over a serial line.
// It implements driver.Instrument.
type DMM struct {
	endpoint model.SerialEndpoint
	conn     protocol.LineProtocol
	logger   *utils.DeviceLogger
	mutex    sync.Mutex
	closed   bool
}

var _ driver.Instrument = (*DMM)(nil)

// Open opens the endpoint, waits for the port to settle and puts the
// instrument in remote mode.
func Open(ctx context.Context, endpoint model.SerialEndpoint, opts Options, logger *zap.Logger) (*DMM, error) {
	deviceLogger := utils.NewDeviceLogger(logger, endpoint.Name)

	conn := protocol.NewSerialConnection(endpoint.Name, opts.Serial, opts.ReadTimeout, opts.PortOpener, deviceLogger.Logger)
	if err := conn.Open(ctx); err != nil {
		deviceLogger.LogConnection("open", false, err)
		return nil, &model.ConnectionError{Port: endpoint.Name, Err: err}
	}

	if opts.OpenSettle > 0 {
		timer := time.NewTimer(opts.OpenSettle)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			conn.Close()
			return nil, &model.ConnectionError{Port: endpoint.Name, Err: ctx.Err()}
		}
	}

	dmm := &DMM{
		endpoint: endpoint,
		conn:     conn,
		logger:   deviceLogger,
	}

	if conn.IsOpen() {
		err := conn.WriteLine(ctx, SCPI_COMMANDS.REMOTE)
		deviceLogger.LogCommand(SCPI_COMMANDS.REMOTE, err)
		if err != nil {
			conn.Close()
			return nil, &model.ConnectionError{Port: endpoint.Name, Err: err}
		}
	}

	deviceLogger.LogConnection("open", true, nil)
	return dmm, nil
}

// NewOpener returns a driver.Opener that opens DMMs with opts
func NewOpener(opts Options, logger *zap.Logger) driver.Opener {
	return driver.OpenerFunc(func(ctx context.Context, endpoint model.SerialEndpoint) (driver.Instrument, error) {
		dmm, err := Open(ctx, endpoint, opts, logger)
		if err != nil {
			return nil, err
		}
		return dmm, nil
	})
}

// Name returns the port name
func (d *DMM) Name() string {
	return d.endpoint.Name
}

// Endpoint returns the endpoint the DMM was opened on
func (d *DMM) Endpoint() model.SerialEndpoint {
	return d.endpoint
}

// Stats returns the line statistics of the underlying connection
func (d *DMM) Stats() protocol.ProtocolStats {
	return d.conn.Stats()
}

// Configure selects the measurement function, range and resolution.
// A mode without a command template sends nothing and returns nil.
func (d *DMM) Configure(ctx context.Context, mode model.MeasurementMode, rng, resolution model.Scalar) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.closed {
		return model.ErrHandleClosed
	}

	cmd, ok := ConfigureCommand(mode, rng, resolution)
	if !ok {
		d.logger.Warn("Unknown measurement mode, nothing sent", zap.Int("mode", int(mode)))
		return nil
	}

	return d.send(ctx, cmd)
}

// SetTrigger selects the trigger source
func (d *DMM) SetTrigger(ctx context.Context, source model.TriggerSource) error {
	if !source.IsValid() {
		return &model.ConfigError{Field: "trigger", Value: string(source), Reason: "expected IMM, BUS or EXT"}
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.closed {
		return model.ErrHandleClosed
	}
	return d.send(ctx, TriggerCommand(source))
}

// ReadMeasurement triggers and reads one measurement. A non-numeric reply
// is logged and exactly one more line is read before giving up with a
// *model.ParseError.
func (d *DMM) ReadMeasurement(ctx context.Context) (float64, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.closed {
		return 0, model.ErrHandleClosed
	}

	if err := d.send(ctx, SCPI_COMMANDS.READ); err != nil {
		return 0, err
	}

	reply, err := d.conn.ReadLine(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read measurement from %s: %w", d.endpoint.Name, err)
	}

	value, err := parseReading(reply)
	if err == nil {
		return value, nil
	}

	d.logger.Warn("Non-numeric reply, reading once more", zap.String("reply", reply))

	retry, err := d.conn.ReadLine(ctx)
	if err != nil {
		return 0, &model.ParseError{Port: d.endpoint.Name, Reply: reply, Err: err}
	}

	value, err = parseReading(retry)
	if err != nil {
		d.logger.Error("Non-numeric reply after retry", zap.String("reply", retry))
		return 0, &model.ParseError{Port: d.endpoint.Name, Reply: retry, Err: err}
	}
	return value, nil
}

// Identify queries *IDN?
func (d *DMM) Identify(ctx context.Context) (*driver.DeviceInfo, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.closed {
		return nil, model.ErrHandleClosed
	}

	if err := d.send(ctx, SCPI_COMMANDS.IDENTIFY); err != nil {
		return nil, err
	}

	reply, err := d.conn.ReadLine(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read identity from %s: %w", d.endpoint.Name, err)
	}
	return driver.ParseIdentity(d.endpoint.Name, reply), nil
}

// Close releases the port. Calling Close again is a no-op.
func (d *DMM) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	err := d.conn.Close()
	d.logger.LogConnection("close", err == nil, err)
	return err
}

func (d *DMM) send(ctx context.Context, cmd string) error {
	err := d.conn.WriteLine(ctx, cmd)
	d.logger.LogCommand(cmd, err)
	return err
}

// parseReading strips the line terminator and parses the rest as a float64
func parseReading(reply string) (float64, error) {
	s := strings.TrimSpace(strings.TrimRight(reply, "\r\n"))
	return strconv.ParseFloat(s, 64)
}
