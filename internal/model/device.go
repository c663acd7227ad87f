// internal/model/device.go
package model

import (
	"fmt"
	"strings"
)

// MeasurementMode selects what the multimeter measures
type MeasurementMode int

const (
	ModeUnknown MeasurementMode = iota
	ModeDCV                     // DC voltage
	ModeACV                     // AC voltage
	ModeDCI                     // DC current
	ModeACI                     // AC current
	ModeRES2                    // 2-wire resistance
	ModeRES4                    // 4-wire resistance
	ModeFREQ                    // Frequency
	ModePER                     // Period
)

// modeSubjects maps every known mode to the SCPI subject used in CONF commands
var modeSubjects = map[MeasurementMode]string{
	ModeDCV:  "VOLT:DC",
	ModeACV:  "VOLT:AC",
	ModeDCI:  "CURR:DC",
	ModeACI:  "CURR:AC",
	ModeRES2: "RES",
	ModeRES4: "FRES",
	ModeFREQ: "FREQ",
	ModePER:  "PER",
}

var modeNames = map[MeasurementMode]string{
	ModeDCV:  "DCV",
	ModeACV:  "ACV",
	ModeDCI:  "DCI",
	ModeACI:  "ACI",
	ModeRES2: "RES2",
	ModeRES4: "RES4",
	ModeFREQ: "FREQ",
	ModePER:  "PER",
}

// Modes returns all known measurement modes in declaration order
func Modes() []MeasurementMode {
	return []MeasurementMode{ModeDCV, ModeACV, ModeDCI, ModeACI, ModeRES2, ModeRES4, ModeFREQ, ModePER}
}

// ParseMode parses a mode name such as "DCV" or "res4"
func ParseMode(s string) (MeasurementMode, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for mode, n := range modeNames {
		if n == name {
			return mode, nil
		}
	}
	return ModeUnknown, &ConfigError{Field: "mode", Value: s, Reason: "unknown measurement mode"}
}

// Subject returns the SCPI subject for the mode and whether the mode is known
func (m MeasurementMode) Subject() (string, bool) {
	subject, ok := modeSubjects[m]
	return subject, ok
}

// IsValid reports whether the mode is one of the known modes
func (m MeasurementMode) IsValid() bool {
	_, ok := modeSubjects[m]
	return ok
}

func (m MeasurementMode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("MeasurementMode(%d)", int(m))
}

// MarshalText implements encoding.TextMarshaler
func (m MeasurementMode) MarshalText() ([]byte, error) {
	if !m.IsValid() {
		return nil, &ConfigError{Field: "mode", Value: m.String(), Reason: "unknown measurement mode"}
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (m *MeasurementMode) UnmarshalText(text []byte) error {
	mode, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// TriggerSource is the instrument trigger source
type TriggerSource string

const (
	TriggerImmediate TriggerSource = "IMM"
	TriggerBus       TriggerSource = "BUS"
	TriggerExternal  TriggerSource = "EXT"
)

// ParseTriggerSource accepts both the short and long SCPI spellings
func ParseTriggerSource(s string) (TriggerSource, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "IMM", "IMMEDIATE":
		return TriggerImmediate, nil
	case "BUS":
		return TriggerBus, nil
	case "EXT", "EXTERNAL":
		return TriggerExternal, nil
	default:
		return "", &ConfigError{Field: "trigger", Value: s, Reason: "unknown trigger source"}
	}
}

// IsValid reports whether the source is one of IMM, BUS or EXT
func (t TriggerSource) IsValid() bool {
	switch t {
	case TriggerImmediate, TriggerBus, TriggerExternal:
		return true
	}
	return false
}

// SerialEndpoint identifies a discoverable serial port
type SerialEndpoint struct {
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
}

// Endpoint builds an endpoint for a port name without metadata
func Endpoint(name string) SerialEndpoint {
	return SerialEndpoint{Name: name}
}

// Parity represents serial parity
type Parity string

const (
	ParityNone Parity = "none"
	ParityOdd  Parity = "odd"
	ParityEven Parity = "even"
)

// SerialConfig holds the line settings used to open an instrument port
type SerialConfig struct {
	BaudRate    int    `json:"baud_rate" mapstructure:"baud_rate"`
	DataBits    int    `json:"data_bits" mapstructure:"data_bits"`
	StopBits    int    `json:"stop_bits" mapstructure:"stop_bits"`
	Parity      Parity `json:"parity" mapstructure:"parity"`
	FlowControl bool   `json:"flow_control" mapstructure:"flow_control"`
}

// DefaultSerialConfig returns 9600 baud, 8 data bits, no parity, 2 stop bits, XON/XOFF
func DefaultSerialConfig() SerialConfig {
	return SerialConfig{
		BaudRate:    9600,
		DataBits:    8,
		StopBits:    2,
		Parity:      ParityNone,
		FlowControl: true,
	}
}
