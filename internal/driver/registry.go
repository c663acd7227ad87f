// internal/driver/registry.go
package driver

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"dmm-service/pkg/driver"
)

// Registry manages the instrument drivers available to the service
type Registry struct {
	drivers map[string]driver.Opener
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewRegistry creates a new driver registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		drivers: make(map[string]driver.Opener),
		logger:  logger,
	}
}

// Register registers a driver under a case-insensitive name
func (r *Registry) Register(name string, opener driver.Opener) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.drivers[strings.ToLower(name)] = opener
	r.logger.Info("Driver registered", zap.String("driver", name))
}

// Opener returns the driver registered under name
func (r *Registry) Opener(name string) (driver.Opener, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if opener, exists := r.drivers[strings.ToLower(name)]; exists {
		return opener, nil
	}
	return nil, fmt.Errorf("no driver found for %q", name)
}

// ListDrivers returns the registered driver names, sorted
func (r *Registry) ListDrivers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.drivers))
	for name := range r.drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsSupported reports whether a driver is registered under name
func (r *Registry) IsSupported(name string) bool {
	_, err := r.Opener(name)
	return err == nil
}
