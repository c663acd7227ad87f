// internal/protocol/protocol.go
package protocol

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrReadTimeout is returned when no line terminator arrives before the read timeout
var ErrReadTimeout = errors.New("read timeout")

// ErrNotOpen is returned by I/O on a connection that is not open
var ErrNotOpen = errors.New("serial port not open")

// Port is the subset of a serial port used by a line connection
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// LineProtocol is a line-terminated ASCII command/response channel to one instrument
type LineProtocol interface {
	// Connection lifecycle
	Open(ctx context.Context) error
	Close() error
	IsOpen() bool

	// Data communication
	WriteLine(ctx context.Context, line string) error
	ReadLine(ctx context.Context) (string, error)

	// Diagnostics
	Name() string
	Stats() ProtocolStats
}

// ProtocolStats provides protocol-level statistics
type ProtocolStats struct {
	BytesWritten   int64         `json:"bytes_written"`
	BytesRead      int64         `json:"bytes_read"`
	LinesWritten   int64         `json:"lines_written"`
	LinesRead      int64         `json:"lines_read"`
	ErrorCount     int64         `json:"error_count"`
	LastActivity   time.Time     `json:"last_activity"`
	AverageLatency time.Duration `json:"average_latency"`
	IsConnected    bool          `json:"is_connected"`
}
