// internal/discovery/scanner.go
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"dmm-service/internal/model"
)

// Errors returned by DiscoverByType
var (
	ErrUnknownScanner     = errors.New("scanner type not found")
	ErrScannerUnavailable = errors.New("scanner not available")
)

// PortScanner finds instrument endpoints visible to the host.
// Discover never fails; an enumeration problem yields an empty result.
type PortScanner interface {
	Discover(ctx context.Context) []model.SerialEndpoint
	GetScannerType() string
	IsAvailable() bool
}

// ScannerManager runs every registered scanner in registration order
type ScannerManager struct {
	scanners []PortScanner
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewScannerManager creates a new scanner manager
func NewScannerManager(logger *zap.Logger) *ScannerManager {
	return &ScannerManager{
		logger: logger,
	}
}

// RegisterScanner registers a port scanner
func (sm *ScannerManager) RegisterScanner(scanner PortScanner) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.scanners = append(sm.scanners, scanner)
	sm.logger.Info("Scanner registered", zap.String("type", scanner.GetScannerType()))
}

// Discover returns the endpoints of all available scanners. An endpoint
// reported by more than one scanner is kept once, at its first position.
func (sm *ScannerManager) Discover(ctx context.Context) []model.SerialEndpoint {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	endpoints := []model.SerialEndpoint{}
	seen := make(map[string]bool)

	for _, scanner := range sm.scanners {
		scannerType := scanner.GetScannerType()
		if !scanner.IsAvailable() {
			sm.logger.Debug("Scanner not available, skipping", zap.String("type", scannerType))
			continue
		}

		found := scanner.Discover(ctx)
		for _, ep := range found {
			if seen[ep.Name] {
				continue
			}
			seen[ep.Name] = true
			endpoints = append(endpoints, ep)
		}

		sm.logger.Info("Scanner completed",
			zap.String("type", scannerType),
			zap.Int("ports_found", len(found)),
		)
	}

	return endpoints
}

// DiscoverByType runs a single scanner
func (sm *ScannerManager) DiscoverByType(ctx context.Context, scannerType string) ([]model.SerialEndpoint, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for _, scanner := range sm.scanners {
		if scanner.GetScannerType() != scannerType {
			continue
		}
		if !scanner.IsAvailable() {
			return nil, fmt.Errorf("%w: %s", ErrScannerUnavailable, scannerType)
		}
		return scanner.Discover(ctx), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownScanner, scannerType)
}

// GetAvailableScanners returns the types of the available scanners
func (sm *ScannerManager) GetAvailableScanners() []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	available := []string{}
	for _, scanner := range sm.scanners {
		if scanner.IsAvailable() {
			available = append(available, scanner.GetScannerType())
		}
	}
	return available
}

// GetScannerType returns "manager"
func (sm *ScannerManager) GetScannerType() string {
	return "manager"
}

// IsAvailable reports whether any registered scanner is available
func (sm *ScannerManager) IsAvailable() bool {
	return len(sm.GetAvailableScanners()) > 0
}

var _ PortScanner = (*ScannerManager)(nil)

// StaticScanner reports a fixed list of port names, in order
type StaticScanner struct {
	endpoints []model.SerialEndpoint
}

// NewStaticScanner creates a scanner for explicitly named ports
func NewStaticScanner(names ...string) *StaticScanner {
	endpoints := make([]model.SerialEndpoint, 0, len(names))
	for _, name := range names {
		endpoints = append(endpoints, model.Endpoint(name))
	}
	return &StaticScanner{endpoints: endpoints}
}

// Discover returns the configured endpoints
func (s *StaticScanner) Discover(context.Context) []model.SerialEndpoint {
	return append([]model.SerialEndpoint{}, s.endpoints...)
}

// GetScannerType returns "static"
func (s *StaticScanner) GetScannerType() string {
	return "static"
}

// IsAvailable is always true
func (s *StaticScanner) IsAvailable() bool {
	return true
}
