// internal/service/errors.go
package service

import (
	"errors"
	"sync"
)

var (
	// ErrPortsBusy is returned while a session or identification owns the serial ports
	ErrPortsBusy = errors.New("serial ports are in use")
	// ErrSessionNotRunning is returned when cancelling a finished session
	ErrSessionNotRunning = errors.New("session is not running")
	// ErrNoInstruments is returned when discovery finds nothing to sample
	ErrNoInstruments = errors.New("no instruments found")
)

// PortGuard serializes exclusive use of the serial ports between services
type PortGuard struct {
	mu   sync.Mutex
	busy bool
}

// TryAcquire takes the ports if they are free
func (g *PortGuard) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.busy {
		return false
	}
	g.busy = true
	return true
}

// Release frees the ports
func (g *PortGuard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.busy = false
}

// Busy reports whether the ports are taken
func (g *PortGuard) Busy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.busy
}
