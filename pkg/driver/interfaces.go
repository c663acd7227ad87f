// pkg/driver/interfaces.go
package driver

import (
	"context"

	"dmm-service/internal/model"
)

// Instrument is the interface every multimeter driver must implement
type Instrument interface {
	// Identity
	Name() string
	Endpoint() model.SerialEndpoint

	// Configuration
	Configure(ctx context.Context, mode model.MeasurementMode, rng, resolution model.Scalar) error
	SetTrigger(ctx context.Context, source model.TriggerSource) error

	// Measurement
	ReadMeasurement(ctx context.Context) (float64, error)
	Identify(ctx context.Context) (*DeviceInfo, error)

	// Cleanup
	Close() error
}

// Opener opens an instrument on a discovered endpoint
type Opener interface {
	Open(ctx context.Context, endpoint model.SerialEndpoint) (Instrument, error)
}

// OpenerFunc adapts a function to the Opener interface
type OpenerFunc func(ctx context.Context, endpoint model.SerialEndpoint) (Instrument, error)

// Open calls f
func (f OpenerFunc) Open(ctx context.Context, endpoint model.SerialEndpoint) (Instrument, error) {
	return f(ctx, endpoint)
}
