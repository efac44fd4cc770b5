package device

import (
	"github.com/srg/blecon/internal/bledb"
)

// NormalizeUUID is re-exported from bledb for convenience.
// It converts a UUID string to lowercase without dashes, collapsing
// SIG base UUIDs (0000xxxx-0000-1000-8000-00805f9b34fb) to the 16-bit form.
func NormalizeUUID(uuid string) string {
	return bledb.NormalizeUUID(uuid)
}

// ShortenUUID returns a truncated version of a UUID for display purposes.
func ShortenUUID(uuid string) string {
	if len(uuid) > 8 {
		return uuid[:8]
	}
	return uuid
}

// ServiceName returns the assigned name of a service, or "Custom Service: <uuid>".
func ServiceName(uuid string) string {
	if name := bledb.LookupService(uuid); name != "" {
		return name
	}
	return "Custom Service: " + NormalizeUUID(uuid)
}

// CharacteristicName returns the assigned name of a characteristic, or "Custom Characteristic: <uuid>".
func CharacteristicName(uuid string) string {
	if name := bledb.LookupCharacteristic(uuid); name != "" {
		return name
	}
	return "Custom Characteristic: " + NormalizeUUID(uuid)
}
