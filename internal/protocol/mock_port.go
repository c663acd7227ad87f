package protocol

import (
	"io"
	"strings"
	"sync"
	"time"

	"dmm-service/internal/model"
)

// MockPort is an in-memory Port with scripted replies. Each queued reply is
// returned by a single Read call; when the queue is empty Read returns io.EOF.
type MockPort struct {
	mu          sync.Mutex
	replies     [][]byte
	written     []string
	closed      bool
	closeCount  int
	readTimeout time.Duration
	WriteErr    error
	CloseErr    error
}

// NewMockPort returns a mock port that will answer with the given replies in order
func NewMockPort(replies ...string) *MockPort {
	p := &MockPort{}
	p.Queue(replies...)
	return p
}

// Queue appends replies
func (p *MockPort) Queue(replies ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range replies {
		p.replies = append(p.replies, []byte(r))
	}
}

// Read implements io.Reader
func (p *MockPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, io.ErrClosedPipe
	}
	if len(p.replies) == 0 {
		return 0, io.EOF
	}

	n := copy(b, p.replies[0])
	if n < len(p.replies[0]) {
		p.replies[0] = p.replies[0][n:]
	} else {
		p.replies = p.replies[1:]
	}
	return n, nil
}

// Write implements io.Writer and records every write
func (p *MockPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, io.ErrClosedPipe
	}
	if p.WriteErr != nil {
		return 0, p.WriteErr
	}
	p.written = append(p.written, string(b))
	return len(b), nil
}

// Close implements io.Closer
func (p *MockPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.closeCount++
	return p.CloseErr
}

// SetReadTimeout records the timeout
func (p *MockPort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readTimeout = t
	return nil
}

// Written returns every write as sent, terminators included
func (p *MockPort) Written() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.written...)
}

// Commands returns every write with the line terminator removed
func (p *MockPort) Commands() []string {
	written := p.Written()
	commands := make([]string, len(written))
	for i, w := range written {
		commands[i] = strings.TrimSuffix(w, LineTerminator)
	}
	return commands
}

// Closed reports whether Close was called
func (p *MockPort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// CloseCount reports how many times Close was called
func (p *MockPort) CloseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeCount
}

// MockOpener returns an Opener serving ports from the map; unknown names fail
func MockOpener(ports map[string]Port, openErr error) Opener {
	return func(name string, _ model.SerialConfig) (Port, error) {
		if port, ok := ports[name]; ok {
			return port, nil
		}
		if openErr != nil {
			return nil, openErr
		}
		return nil, io.ErrUnexpectedEOF
	}
}
