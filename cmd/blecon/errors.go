package main

import (
	"errors"
	"strings"

	"github.com/srg/blecon/internal/device"
	"github.com/srg/blecon/pkg/codec"
	"github.com/srg/blecon/pkg/connection"
)

// Command-level errors
var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrUsage          = errors.New("usage")
)

// FormatUserError turns an error chain into a one-line message with a hint
// for the failures users run into most.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()

	var hint string
	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		hint = "turn Bluetooth on and grant this terminal Bluetooth access"
	case errors.Is(err, device.ErrUnsupported):
		hint = "this platform has no supported BLE backend"
	case errors.Is(err, connection.ErrNoServiceSelected):
		hint = `open a service with "use <service>" or address it as "service/characteristic"`
	case errors.Is(err, device.ErrNotConnected):
		hint = `connect with "open <device>"`
	case errors.Is(err, codec.ErrMalformed):
		hint = `check the data against the current format ("format")`
	case errors.Is(err, ErrUnknownCommand):
		hint = `type "help" for the list of commands`
	}

	if hint == "" || strings.Contains(msg, hint) {
		return msg
	}
	return msg + " (" + hint + ")"
}
