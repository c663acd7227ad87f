// internal/driver/registry_init.go
package driver

import (
	"go.uber.org/zap"

	"dmm-service/internal/driver/keysight"
	"dmm-service/internal/protocol"
)

// Driver names accepted by serial.driver
const (
	DriverKeysight34401A = "34401a"
	DriverSimulated      = "simulated"
)

// RegisterDefaultDrivers registers the 34401A serial driver and a simulated
// 34401A that needs no hardware
func RegisterDefaultDrivers(registry *Registry, opts keysight.Options, simulationNoise float64, logger *zap.Logger) {
	serialOpts := opts
	serialOpts.PortOpener = protocol.OpenSerial
	registry.Register(DriverKeysight34401A, keysight.NewOpener(serialOpts, logger))

	simulatedOpts := opts
	simulatedOpts.PortOpener = protocol.SimulatedOpener(simulationNoise)
	registry.Register(DriverSimulated, keysight.NewOpener(simulatedOpts, logger))
}
