package protocol

import (
	"fmt"
	"io"
	"math/rand"
	"strings"
	"sync"
	"time"

	"dmm-service/internal/model"
)

// simulatedBase is the nominal reading returned for each CONF subject
var simulatedBase = map[string]float64{
	"VOLT:DC": 0.5,
	"VOLT:AC": 0.707,
	"CURR:DC": 0.001,
	"CURR:AC": 0.0007,
	"RES":     550.8,
	"FRES":    550.8,
	"FREQ":    1000,
	"PER":     0.001,
}

// SimulatedPort behaves like a 34401A on the remote interface: it answers
// READ? with a noisy reading for the configured function and *IDN? with an
// identification string. Other commands are accepted silently.
type SimulatedPort struct {
	mu      sync.Mutex
	name    string
	subject string
	noise   float64
	rng     *rand.Rand
	out     []byte
	closed  bool
}

// NewSimulatedPort creates a simulated instrument
func NewSimulatedPort(name string, noise float64, seed int64) *SimulatedPort {
	return &SimulatedPort{
		name:    name,
		subject: "VOLT:DC",
		noise:   noise,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

// SimulatedOpener opens a simulated instrument for every port name
func SimulatedOpener(noise float64) Opener {
	var seed int64
	var mu sync.Mutex
	return func(name string, _ model.SerialConfig) (Port, error) {
		mu.Lock()
		seed++
		s := seed
		mu.Unlock()
		return NewSimulatedPort(name, noise, time.Now().UnixNano()+s), nil
	}
}

// Write parses one or more commands
func (p *SimulatedPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, io.ErrClosedPipe
	}

	for _, line := range strings.Split(string(b), LineTerminator) {
		p.handle(strings.TrimSpace(line))
	}
	return len(b), nil
}

func (p *SimulatedPort) handle(command string) {
	upper := strings.ToUpper(command)
	switch {
	case upper == "READ?":
		value := simulatedBase[p.subject] * (1 + p.noise*p.rng.NormFloat64())
		p.out = append(p.out, fmt.Sprintf("%+.8E\r\n", value)...)
	case upper == "*IDN?":
		p.out = append(p.out, fmt.Sprintf("HEWLETT-PACKARD,34401A,0,SIM-%s\r\n", p.name)...)
	case strings.HasPrefix(upper, "CONF:"):
		subject := strings.TrimPrefix(upper, "CONF:")
		if i := strings.IndexByte(subject, ' '); i >= 0 {
			subject = subject[:i]
		}
		if _, ok := simulatedBase[subject]; ok {
			p.subject = subject
		}
	}
}

// Read drains queued replies; an empty queue behaves like a read timeout
func (p *SimulatedPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, io.ErrClosedPipe
	}
	n := copy(b, p.out)
	p.out = p.out[n:]
	return n, nil
}

// Close implements io.Closer
func (p *SimulatedPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// SetReadTimeout is accepted and ignored
func (p *SimulatedPort) SetReadTimeout(time.Duration) error {
	return nil
}
