package device_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/srg/blecon/internal/device"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name   string
		input  error
		target error
	}{
		{name: "bluetooth off", input: errors.New("Bluetooth is turned off"), target: device.ErrBluetoothOff},
		{name: "darwin central manager state", input: errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"), target: device.ErrBluetoothOff},
		{name: "not connected", input: errors.New("device not connected"), target: device.ErrNotConnected},
		{name: "disconnected", input: errors.New("peripheral disconnected"), target: device.ErrNotConnected},
		{name: "already connected", input: errors.New("device already connected"), target: device.ErrAlreadyConnected},
		{name: "not initialized", input: errors.New("connection is not initialized"), target: device.ErrNotInitialized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := device.NormalizeError(tt.input)
			assert.ErrorIs(t, err, tt.target)
			assert.Contains(t, err.Error(), tt.input.Error(), "normalized error MUST keep the original message")
		})
	}

	assert.Nil(t, device.NormalizeError(nil))

	unknown := errors.New("att: invalid handle")
	assert.Same(t, unknown, device.NormalizeError(unknown), "unknown errors MUST pass through unchanged")
}

func TestConnectionError_Is(t *testing.T) {
	err := fmt.Errorf("read: %w", &device.ConnectionError{State: device.NotConnected, Msg: "link lost"})

	assert.ErrorIs(t, err, device.ErrNotConnected)
	assert.NotErrorIs(t, err, device.ErrAlreadyConnected)
	assert.Equal(t, "not_connected: link lost", errors.Unwrap(err).Error())
}

func TestStatusError(t *testing.T) {
	cause := errors.New("att: insufficient authentication")
	err := fmt.Errorf("wrapped: %w", &device.StatusError{Op: "read", Status: device.StatusProtocolError, Err: cause})

	assert.True(t, device.IsStatusError(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "wrapped: read: protocol error: att: insufficient authentication", err.Error())
	assert.False(t, device.IsStatusError(cause))
}

func TestProperties(t *testing.T) {
	p := device.PropRead | device.PropNotify

	assert.True(t, p.Has(device.PropRead))
	assert.False(t, p.Has(device.PropWrite))
	assert.True(t, p.CanSubscribe())
	assert.False(t, device.PropWrite.CanSubscribe())
	assert.Equal(t, "Read, Notify", p.String())
	assert.Empty(t, device.Properties(0).Names())
}

func TestNames(t *testing.T) {
	assert.Equal(t, "Battery Service", device.ServiceName("0000180f-0000-1000-8000-00805f9b34fb"))
	assert.Equal(t, "Custom Service: 1234", device.ServiceName("0x1234"))
	assert.Equal(t, "Battery Level", device.CharacteristicName("2A19"))
	assert.Equal(t, "Custom Characteristic: 6e400009b5a3f393e0a9e50e24dcca9e", device.CharacteristicName("6e400009-b5a3-f393-e0a9-e50e24dcca9e"))
	assert.Equal(t, "6e400001", device.ShortenUUID("6e400001b5a3f393e0a9e50e24dcca9e"))
}

func TestDiscoveredDevice(t *testing.T) {
	d := device.NewDiscoveredDevice("AA:BB", "Thermo", true)

	renamed := d.WithName("Thermo-2").WithConnectable(false)

	assert.Equal(t, "Thermo", d.Name(), "With* MUST NOT mutate the receiver")
	assert.Equal(t, "AA:BB", renamed.ID())
	assert.Equal(t, "Thermo-2", renamed.Name())
	assert.False(t, renamed.IsConnectable())
}
