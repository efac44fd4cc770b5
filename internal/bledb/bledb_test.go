package bledb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeUUID(t *testing.T) {
	tests := map[string]struct {
		input    string
		expected string
	}{
		"16-bit short form":          {"180d", "180d"},
		"16-bit with 0x prefix":      {"0x180D", "180d"},
		"SIG UUID with dashes":       {"0000180d-0000-1000-8000-00805f9b34fb", "180d"},
		"SIG UUID without dashes":    {"0000180d00001000800000805f9b34fb", "180d"},
		"SIG UUID with braces":       {"{0000180D-0000-1000-8000-00805F9B34FB}", "180d"},
		"custom 128-bit UUID":        {"6e400001-b5a3-f393-e0a9-e50e24dcca9e", "6e400001b5a3f393e0a9e50e24dcca9e"},
		"non-zero prefix stays long": {"1000180d-0000-1000-8000-00805f9b34fb", "1000180d00001000800000805f9b34fb"},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeUUID(tt.input))
		})
	}

	assert.Equal(t, []string{"2a19", "2902"}, NormalizeUUIDs([]string{"0x2A19", "00002902-0000-1000-8000-00805f9b34fb"}))
}

func TestLookups(t *testing.T) {
	assert.Equal(t, "Heart Rate", LookupService("0x180d"))
	assert.Equal(t, "Battery Service", LookupService("0000180f-0000-1000-8000-00805f9b34fb"))
	assert.Equal(t, "Nordic UART Service", LookupService("6E400001-B5A3-F393-E0A9-E50E24DCCA9E"))
	assert.Empty(t, LookupService("ffff"), "unknown service MUST resolve to empty name")

	assert.Equal(t, "Heart Rate Measurement", LookupCharacteristic("00002a37-0000-1000-8000-00805f9b34fb"))
	assert.Equal(t, "Battery Level", LookupCharacteristic("2a19"))

	assert.Equal(t, "Client Characteristic Configuration", LookupDescriptor("2902"))
	assert.Equal(t, "Characteristic User Descriptor", LookupDescriptor("00002901-0000-1000-8000-00805f9b34fb"))
}

func TestLookup(t *testing.T) {
	tests := []struct {
		uuid string
		name string
		kind string
	}{
		{"180a", "Device Information", "service"},
		{"2a29", "Manufacturer Name String", "characteristic"},
		{"2902", "Client Characteristic Configuration", "descriptor"},
		{"dead", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.uuid, func(t *testing.T) {
			name, kind := Lookup(tt.uuid)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.kind, kind)
		})
	}
}
