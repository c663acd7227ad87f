// internal/service/discovery_service.go
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"dmm-service/internal/discovery"
	"dmm-service/internal/driver"
	"dmm-service/internal/model"
	"dmm-service/internal/utils"
	instrument "dmm-service/pkg/driver"
)

// DiscoveryService lists serial ports and identifies the instruments on them
type DiscoveryService struct {
	scannerManager *discovery.ScannerManager
	driverRegistry *driver.Registry
	opener         instrument.Opener
	ports          *PortGuard
	logger         *utils.ServiceLogger
}

// NewDiscoveryService creates a new discovery service
func NewDiscoveryService(
	scannerManager *discovery.ScannerManager,
	driverRegistry *driver.Registry,
	opener instrument.Opener,
	ports *PortGuard,
	logger *zap.Logger,
) *DiscoveryService {
	ds := &DiscoveryService{
		scannerManager: scannerManager,
		driverRegistry: driverRegistry,
		opener:         opener,
		ports:          ports,
		logger:         utils.NewServiceLogger(logger, "discovery-service"),
	}

	ds.logger.Info("Discovery scanners initialized",
		zap.Strings("available_scanners", scannerManager.GetAvailableScanners()),
	)
	return ds
}

// ScanPorts returns the endpoints that look like instruments. An empty
// scannerType runs every registered scanner.
func (ds *DiscoveryService) ScanPorts(ctx context.Context, scannerType string) ([]model.SerialEndpoint, error) {
	start := time.Now()

	var endpoints []model.SerialEndpoint
	if scannerType == "" {
		endpoints = ds.scannerManager.Discover(ctx)
	} else {
		var err error
		endpoints, err = ds.scannerManager.DiscoverByType(ctx, scannerType)
		if err != nil {
			return nil, err
		}
	}

	ds.logger.Info("Port scan completed",
		zap.String("scanner", scannerType),
		zap.Int("ports_found", len(endpoints)),
		zap.Duration("duration", time.Since(start)),
	)
	return endpoints, nil
}

// IdentifyInstruments opens each port, queries *IDN? and closes it again.
// An empty list identifies every discovered port. Failures are reported per
// port; the call fails only when the ports are in use.
func (ds *DiscoveryService) IdentifyInstruments(ctx context.Context, ports []string) ([]*IdentifyResult, error) {
	if !ds.ports.TryAcquire() {
		return nil, ErrPortsBusy
	}
	defer ds.ports.Release()

	var endpoints []model.SerialEndpoint
	if len(ports) > 0 {
		endpoints = discovery.NewStaticScanner(ports...).Discover(ctx)
	} else {
		endpoints = ds.scannerManager.Discover(ctx)
	}

	results := make([]*IdentifyResult, 0, len(endpoints))
	for _, ep := range endpoints {
		results = append(results, ds.identify(ctx, ep))
	}
	return results, nil
}

func (ds *DiscoveryService) identify(ctx context.Context, ep model.SerialEndpoint) *IdentifyResult {
	result := &IdentifyResult{Port: ep.Name, Endpoint: ep}

	inst, err := ds.opener.Open(ctx, ep)
	if err != nil {
		ds.logger.Warn("Failed to open port for identification", zap.String("port", ep.Name), zap.Error(err))
		result.Error = err.Error()
		return result
	}
	defer func() {
		if err := inst.Close(); err != nil {
			ds.logger.Warn("Failed to close port after identification", zap.String("port", ep.Name), zap.Error(err))
		}
	}()

	info, err := inst.Identify(ctx)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Info = info
	return result
}

// GetSupportedDrivers returns the registered driver names
func (ds *DiscoveryService) GetSupportedDrivers() []string {
	return ds.driverRegistry.ListDrivers()
}

// IdentifyResult is the outcome of identifying one port
type IdentifyResult struct {
	Port     string                 `json:"port"`
	Endpoint model.SerialEndpoint   `json:"endpoint"`
	Info     *instrument.DeviceInfo `json:"info,omitempty"`
	Error    string                 `json:"error,omitempty"`
}
