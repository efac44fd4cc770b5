package goble

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-ble/ble"
	"github.com/srg/blecon/internal/device"
)

// wrapError classifies a go-ble failure. ATT error responses, timeouts and
// lost links become device.StatusError; anything else is returned normalized
// and is treated by callers as a platform exception.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}

	var attErr ble.ATTError
	switch {
	case errors.As(err, &attErr):
		return &device.StatusError{Op: op, Status: attStatus(attErr), Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &device.StatusError{Op: op, Status: device.StatusUnreachable, Err: fmt.Errorf("%w: %w", device.ErrTimeout, err)}
	}

	normalized := device.NormalizeError(err)
	if errors.Is(normalized, device.ErrNotConnected) {
		return &device.StatusError{Op: op, Status: device.StatusUnreachable, Err: normalized}
	}
	return normalized
}

func attStatus(code ble.ATTError) device.CommunicationStatus {
	switch code {
	case ble.ErrReadNotPerm, ble.ErrWriteNotPerm, ble.ErrAuthentication, ble.ErrAuthorization:
		return device.StatusAccessDenied
	default:
		return device.StatusProtocolError
	}
}

// call runs a blocking go-ble request and gives up when ctx ends. go-ble
// requests cannot be cancelled, so an abandoned request finishes in the background.
func call[T any](ctx context.Context, op string, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, wrapError(op, r.err)
	case <-ctx.Done():
		var zero T
		return zero, wrapError(op, ctx.Err())
	}
}

// exec is call for requests without a result.
func exec(ctx context.Context, op string, fn func() error) error {
	_, err := call(ctx, op, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
