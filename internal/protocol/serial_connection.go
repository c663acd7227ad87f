// internal/protocol/serial_connection.go
package protocol

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"dmm-service/internal/model"
)

// LineTerminator ends every command sent to the instrument
const LineTerminator = "\n"

// Opener opens a serial port by name
type Opener func(name string, cfg model.SerialConfig) (Port, error)

// OpenSerial opens a real serial port with go.bug.st/serial
func OpenSerial(name string, cfg model.SerialConfig) (Port, error) {
	mode, err := serialMode(cfg)
	if err != nil {
		return nil, err
	}
	return serial.Open(name, mode)
}

// serialMode maps line settings onto a go.bug.st/serial mode
func serialMode(cfg model.SerialConfig) (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
	}

	switch cfg.StopBits {
	case 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("unsupported stop bits: %d", cfg.StopBits)
	}

	switch cfg.Parity {
	case model.ParityNone, "":
		mode.Parity = serial.NoParity
	case model.ParityOdd:
		mode.Parity = serial.OddParity
	case model.ParityEven:
		mode.Parity = serial.EvenParity
	default:
		return nil, fmt.Errorf("unsupported parity: %s", cfg.Parity)
	}

	return mode, nil
}

// SerialConnection implements LineProtocol over a serial port
type SerialConnection struct {
	name        string
	config      model.SerialConfig
	readTimeout time.Duration
	opener      Opener
	port        Port
	pending     []byte
	logger      *zap.Logger
	mutex       sync.Mutex
	isOpen      bool
	stats       ProtocolStats
}

// NewSerialConnection creates a new serial connection; opener nil means OpenSerial
func NewSerialConnection(name string, config model.SerialConfig, readTimeout time.Duration, opener Opener, logger *zap.Logger) *SerialConnection {
	if opener == nil {
		opener = OpenSerial
	}

	return &SerialConnection{
		name:        name,
		config:      config,
		readTimeout: readTimeout,
		opener:      opener,
		logger: logger.With(
			zap.String("protocol", "serial"),
			zap.String("port", name),
		),
	}
}

// Open opens the serial connection
func (sc *SerialConnection) Open(ctx context.Context) error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if sc.isOpen {
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	sc.logger.Info("Opening serial port",
		zap.Int("baud_rate", sc.config.BaudRate),
		zap.Int("data_bits", sc.config.DataBits),
		zap.Int("stop_bits", sc.config.StopBits),
		zap.String("parity", string(sc.config.Parity)),
	)

	if sc.config.FlowControl {
		// go.bug.st/serial cannot negotiate XON/XOFF; the instrument's short replies fit its buffer
		sc.logger.Debug("Software flow control requested but not applied by the serial driver")
	}

	port, err := sc.opener(sc.name, sc.config)
	if err != nil {
		sc.logger.Error("Failed to open serial port", zap.Error(err))
		return fmt.Errorf("failed to open serial port: %w", err)
	}

	if sc.readTimeout > 0 {
		if err := port.SetReadTimeout(sc.readTimeout); err != nil {
			port.Close()
			return fmt.Errorf("failed to set read timeout: %w", err)
		}
	}

	sc.port = port
	sc.pending = nil
	sc.isOpen = true
	sc.stats.IsConnected = true
	sc.stats.LastActivity = time.Now()

	sc.logger.Info("Serial port opened successfully")
	return nil
}

// Close closes the serial connection
func (sc *SerialConnection) Close() error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if !sc.isOpen || sc.port == nil {
		return nil
	}

	err := sc.port.Close()
	sc.port = nil
	sc.pending = nil
	sc.isOpen = false
	sc.stats.IsConnected = false

	if err != nil {
		sc.logger.Error("Failed to close serial port", zap.Error(err))
		return fmt.Errorf("failed to close serial port: %w", err)
	}

	sc.logger.Info("Serial port closed successfully")
	return nil
}

// IsOpen returns whether the connection is open
func (sc *SerialConnection) IsOpen() bool {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	return sc.isOpen && sc.port != nil
}

// Name returns the port name
func (sc *SerialConnection) Name() string {
	return sc.name
}

// Stats returns a snapshot of the connection statistics
func (sc *SerialConnection) Stats() ProtocolStats {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	return sc.stats
}

// WriteLine writes line followed by the line terminator
func (sc *SerialConnection) WriteLine(ctx context.Context, line string) error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if !sc.isOpen || sc.port == nil {
		return ErrNotOpen
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	data := []byte(line + LineTerminator)
	startTime := time.Now()

	n, err := sc.port.Write(data)
	if err != nil {
		sc.stats.ErrorCount++
		sc.logger.Error("Serial write failed", zap.Error(err))
		return fmt.Errorf("failed to write to serial port: %w", err)
	}

	if n != len(data) {
		sc.stats.ErrorCount++
		return fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(data))
	}

	sc.stats.BytesWritten += int64(n)
	sc.stats.LinesWritten++
	sc.stats.LastActivity = time.Now()
	sc.updateAverageLatency(time.Since(startTime))

	sc.logger.Debug("Serial write completed", zap.String("line", line))
	return nil
}

// ReadLine reads up to and including the next newline and returns the line with
// the terminator still attached. A started read is never interrupted by ctx.
func (sc *SerialConnection) ReadLine(ctx context.Context) (string, error) {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if !sc.isOpen || sc.port == nil {
		return "", ErrNotOpen
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	startTime := time.Now()
	chunk := make([]byte, 64)

	for {
		if i := bytes.IndexByte(sc.pending, '\n'); i >= 0 {
			line := string(sc.pending[:i+1])
			sc.pending = append([]byte(nil), sc.pending[i+1:]...)

			sc.stats.LinesRead++
			sc.stats.LastActivity = time.Now()
			sc.updateAverageLatency(time.Since(startTime))
			return line, nil
		}

		n, err := sc.port.Read(chunk)
		if n > 0 {
			sc.stats.BytesRead += int64(n)
			sc.pending = append(sc.pending, chunk[:n]...)
			continue
		}

		if err != nil {
			sc.stats.ErrorCount++
			sc.logger.Error("Serial read failed", zap.Error(err))
			return "", fmt.Errorf("failed to read from serial port: %w", err)
		}

		// go.bug.st/serial returns 0, nil when the read timeout expires
		sc.stats.ErrorCount++
		return "", fmt.Errorf("%w after %s", ErrReadTimeout, sc.readTimeout)
	}
}

// updateAverageLatency updates the running average latency
func (sc *SerialConnection) updateAverageLatency(newLatency time.Duration) {
	if sc.stats.AverageLatency == 0 {
		sc.stats.AverageLatency = newLatency
	} else {
		sc.stats.AverageLatency = (sc.stats.AverageLatency + newLatency) / 2
	}
}
