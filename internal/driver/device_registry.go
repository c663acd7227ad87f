// internal/driver/device_registry.go
package driver

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"dmm-service/internal/discovery"
	"dmm-service/internal/model"
	"dmm-service/pkg/driver"
)

// DeviceRegistry discovers endpoints, opens one instrument per endpoint and
// owns the opened instruments until they are destroyed
type DeviceRegistry struct {
	scanner discovery.PortScanner
	opener  driver.Opener
	logger  *zap.Logger

	mu    sync.Mutex
	owned []driver.Instrument
}

// NewDeviceRegistry creates a device registry
func NewDeviceRegistry(scanner discovery.PortScanner, opener driver.Opener, logger *zap.Logger) *DeviceRegistry {
	return &DeviceRegistry{
		scanner: scanner,
		opener:  opener,
		logger:  logger.With(zap.String("component", "device_registry")),
	}
}

// CreateAll opens an instrument on every discovered endpoint, in discovery
// order. The first failure closes the instruments already opened and is
// returned as a *model.ConnectionError.
func (r *DeviceRegistry) CreateAll(ctx context.Context) ([]driver.Instrument, error) {
	return r.CreateFor(ctx, r.scanner.Discover(ctx))
}

// CreateFor opens an instrument on each given endpoint, in order, with the
// same all-or-nothing semantics as CreateAll
func (r *DeviceRegistry) CreateFor(ctx context.Context, endpoints []model.SerialEndpoint) ([]driver.Instrument, error) {
	instruments := make([]driver.Instrument, 0, len(endpoints))

	for _, ep := range endpoints {
		inst, err := r.opener.Open(ctx, ep)
		if err != nil {
			r.logger.Error("Failed to open instrument",
				zap.String("port", ep.Name),
				zap.Error(err),
			)
			if closeErr := closeAll(instruments); closeErr != nil {
				r.logger.Warn("Failed to release instruments after open failure", zap.Error(closeErr))
			}
			return nil, asConnectionError(ep.Name, err)
		}
		instruments = append(instruments, inst)
	}

	r.mu.Lock()
	r.owned = append(r.owned, instruments...)
	r.mu.Unlock()

	r.logger.Info("Instruments opened", zap.Int("count", len(instruments)))
	return instruments, nil
}

// DestroyAll closes every given instrument and releases ownership. Closing
// an instrument that is already closed is a no-op; close errors are combined.
func (r *DeviceRegistry) DestroyAll(instruments []driver.Instrument) error {
	err := closeAll(instruments)

	r.mu.Lock()
	r.owned = without(r.owned, instruments)
	r.mu.Unlock()

	if err != nil {
		r.logger.Warn("Errors while closing instruments", zap.Error(err))
	}
	return err
}

// Owned returns the instruments opened and not yet destroyed
func (r *DeviceRegistry) Owned() []driver.Instrument {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]driver.Instrument(nil), r.owned...)
}

// Close destroys every instrument still owned by the registry
func (r *DeviceRegistry) Close() error {
	return r.DestroyAll(r.Owned())
}

func closeAll(instruments []driver.Instrument) error {
	var err error
	for _, inst := range instruments {
		err = multierr.Append(err, inst.Close())
	}
	return err
}

func without(owned, removed []driver.Instrument) []driver.Instrument {
	drop := make(map[driver.Instrument]bool, len(removed))
	for _, inst := range removed {
		drop[inst] = true
	}

	kept := owned[:0]
	for _, inst := range owned {
		if !drop[inst] {
			kept = append(kept, inst)
		}
	}
	return kept
}

func asConnectionError(port string, err error) error {
	var connErr *model.ConnectionError
	if errors.As(err, &connErr) {
		return err
	}
	return &model.ConnectionError{Port: port, Err: err}
}
