// internal/driver/keysight/commands.go
package keysight

import (
	"fmt"

	"dmm-service/internal/model"
)

// SCPI_COMMANDS contains the SCPI commands understood by the 34401A family
var SCPI_COMMANDS = struct {
	// Session
	REMOTE   string
	IDENTIFY string

	// Measurement
	READ string

	// Templates
	CONFIGURE      string // CONF:<subject> <range>, <resolution>
	TRIGGER_SOURCE string // TRIG:SOUR <source>
}{
	REMOTE:   "SYSTem:REMote",
	IDENTIFY: "*IDN?",

	READ: "READ?",

	CONFIGURE:      "CONF:%s %s, %s",
	TRIGGER_SOURCE: "TRIG:SOUR %s",
}

// ConfigureCommand renders the CONF command for mode. ok is false for a mode
// without a command template.
func ConfigureCommand(mode model.MeasurementMode, rng, resolution model.Scalar) (cmd string, ok bool) {
	subject, ok := mode.Subject()
	if !ok {
		return "", false
	}
	return fmt.Sprintf(SCPI_COMMANDS.CONFIGURE, subject, rng, resolution), true
}

// TriggerCommand renders the TRIG:SOUR command
func TriggerCommand(source model.TriggerSource) string {
	return fmt.Sprintf(SCPI_COMMANDS.TRIGGER_SOURCE, source)
}
