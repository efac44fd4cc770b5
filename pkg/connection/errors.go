package connection

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/blecon/internal/device"
)

// Command errors. Resolution failures use resolve.ErrNotFound and resolve.ErrAmbiguous,
// deadlines use device.ErrTimeout and codec failures use codec.ErrMalformed.
var (
	ErrNotConnected          = device.ErrNotConnected
	ErrInvalidName           = errors.New("invalid name")
	ErrConnectFailed         = errors.New("failed to connect")
	ErrUnreachable           = errors.New("device unreachable")
	ErrNoServiceSelected     = errors.New("no service selected")
	ErrAccessDenied          = errors.New("access denied")
	ErrCommunication         = errors.New("communication failure")
	ErrRestrictedService     = errors.New("restricted service")
	ErrInvalidCharacteristic = errors.New("invalid characteristic")
	ErrEmptyCharacteristic   = errors.New("characteristic name is required")
	ErrAlreadySubscribed     = errors.New("already subscribed")
	ErrNotSubscribed         = errors.New("not subscribed")
	ErrNoSubscriptions       = errors.New("no active subscriptions")
)

// platformError classifies a failed platform call: non-success statuses become
// ErrCommunication, anything else is a platform exception.
func platformError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w: %w", ErrCommunication, device.ErrTimeout, err)
	case device.IsStatusError(err):
		return fmt.Errorf("%w: %w", ErrCommunication, err)
	default:
		return fmt.Errorf("%w: %w", ErrRestrictedService, device.NormalizeError(err))
	}
}
