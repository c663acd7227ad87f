// pkg/driver/types.go
package driver

import (
	"strings"
)

// DeviceInfo is the parsed reply to *IDN?
type DeviceInfo struct {
	Port            string `json:"port"`
	Manufacturer    string `json:"manufacturer"`
	Model           string `json:"model"`
	SerialNumber    string `json:"serial_number"`
	FirmwareVersion string `json:"firmware_version"`
	Raw             string `json:"raw"`
}

// ParseIdentity splits a "<manufacturer>,<model>,<serial>,<firmware>" reply.
// Missing fields are left empty.
func ParseIdentity(port, reply string) *DeviceInfo {
	raw := strings.TrimRight(reply, "\r\n")
	info := &DeviceInfo{Port: port, Raw: raw}

	fields := strings.SplitN(raw, ",", 4)
	for i, f := range fields {
		f = strings.TrimSpace(f)
		switch i {
		case 0:
			info.Manufacturer = f
		case 1:
			info.Model = f
		case 2:
			info.SerialNumber = f
		case 3:
			info.FirmwareVersion = f
		}
	}
	return info
}
