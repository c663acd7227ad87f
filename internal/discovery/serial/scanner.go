// internal/discovery/serial/scanner.go
package serial

import (
	"context"
	"strings"

	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"dmm-service/internal/model"
)

// enumeratePorts is replaced in tests
var enumeratePorts = enumerator.GetDetailedPortsList

// Config for the serial scanner
type Config struct {
	// DescriptionFilters are matched case-insensitively against the port's
	// product description. Empty means every USB port with a product ID.
	DescriptionFilters []string `json:"description_filters" mapstructure:"description_filters"`
}

// Scanner discovers instruments on serial ports
type Scanner struct {
	logger *zap.Logger
	config Config
}

// NewScanner creates a new serial scanner
func NewScanner(logger *zap.Logger, config Config) *Scanner {
	return &Scanner{
		logger: logger.With(zap.String("scanner", "serial")),
		config: config,
	}
}

// GetScannerType returns scanner type
func (s *Scanner) GetScannerType() string {
	return "serial"
}

// IsAvailable checks if serial scanning is available
func (s *Scanner) IsAvailable() bool {
	return true
}

// Discover lists the serial ports that look like instruments, in
// enumeration order
func (s *Scanner) Discover(ctx context.Context) []model.SerialEndpoint {
	endpoints := []model.SerialEndpoint{}

	if ctx.Err() != nil {
		return endpoints
	}

	ports, err := enumeratePorts()
	if err != nil {
		s.logger.Warn("Failed to enumerate serial ports", zap.Error(err))
		return endpoints
	}

	for _, port := range ports {
		if port == nil || !s.matches(port) {
			continue
		}
		endpoints = append(endpoints, model.SerialEndpoint{
			Name:         port.Name,
			Description:  port.Product,
			IsUSB:        port.IsUSB,
			VID:          port.VID,
			PID:          port.PID,
			SerialNumber: port.SerialNumber,
		})
	}

	s.logger.Info("Serial scan completed",
		zap.Int("ports_seen", len(ports)),
		zap.Int("ports_matched", len(endpoints)),
	)
	return endpoints
}

func (s *Scanner) matches(port *enumerator.PortDetails) bool {
	if len(s.config.DescriptionFilters) == 0 {
		return port.IsUSB && port.PID != ""
	}

	product := strings.ToLower(port.Product)
	for _, filter := range s.config.DescriptionFilters {
		if filter != "" && strings.Contains(product, strings.ToLower(filter)) {
			return true
		}
	}
	return false
}
