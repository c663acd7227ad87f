package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseIdentity(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  DeviceInfo
	}{
		{
			name:  "full reply",
			reply: "HEWLETT-PACKARD,34401A,0,11-5-2\r\n",
			want: DeviceInfo{
				Port:            "COM3",
				Manufacturer:    "HEWLETT-PACKARD",
				Model:           "34401A",
				SerialNumber:    "0",
				FirmwareVersion: "11-5-2",
				Raw:             "HEWLETT-PACKARD,34401A,0,11-5-2",
			},
		},
		{
			name:  "short reply",
			reply: "Agilent Technologies, 34410A\n",
			want: DeviceInfo{
				Port:         "COM3",
				Manufacturer: "Agilent Technologies",
				Model:        "34410A",
				Raw:          "Agilent Technologies, 34410A",
			},
		},
		{
			name:  "empty reply",
			reply: "\r\n",
			want:  DeviceInfo{Port: "COM3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, *ParseIdentity("COM3", tt.reply))
		})
	}
}
