package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
)

// Operation errors
var (
	ErrTimeout      = errors.New("timeout")
	ErrUnsupported  = errors.New("unsupported")
	ErrBluetoothOff = errors.New("bluetooth is turned off")
)

// CommunicationStatus is the outcome reported by the platform for a GATT operation.
type CommunicationStatus int

const (
	StatusSuccess CommunicationStatus = iota
	StatusUnreachable
	StatusProtocolError
	StatusAccessDenied
)

func (s CommunicationStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusUnreachable:
		return "unreachable"
	case StatusProtocolError:
		return "protocol error"
	case StatusAccessDenied:
		return "access denied"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// StatusError reports a GATT operation that completed with a non-success status.
// Any other error returned by a platform call is treated as a platform exception.
type StatusError struct {
	Op     string
	Status CommunicationStatus
	Err    error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Status)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// IsStatusError reports whether err carries a non-success platform status.
func IsStatusError(err error) bool {
	var serr *StatusError
	return errors.As(err, &serr)
}

// NormalizeError maps platform error strings to the sentinel errors above.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "is Bluetooth turned on"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "device not connected"), containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "connection is not initialized"):
		return fmt.Errorf("%w: %v", ErrNotInitialized, err)
	default:
		return err
	}
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// DiscoveredDevice is a peripheral seen by the discovery watcher.
type DiscoveredDevice struct {
	id          string
	name        string
	connectable bool
}

func NewDiscoveredDevice(id, name string, connectable bool) DiscoveredDevice {
	return DiscoveredDevice{id: id, name: name, connectable: connectable}
}

func (d DiscoveredDevice) ID() string          { return d.id }
func (d DiscoveredDevice) Name() string        { return d.name }
func (d DiscoveredDevice) IsConnectable() bool { return d.connectable }

// WithName returns a copy with the display name replaced.
func (d DiscoveredDevice) WithName(name string) DiscoveredDevice {
	d.name = name
	return d
}

// WithConnectable returns a copy with the connectable flag replaced.
func (d DiscoveredDevice) WithConnectable(connectable bool) DiscoveredDevice {
	d.connectable = connectable
	return d
}

// DiscoveryEventType enumerates watcher notifications.
type DiscoveryEventType int

const (
	DeviceAdded DiscoveryEventType = iota
	DeviceUpdated
	DeviceRemoved
	EnumerationCompleted
	WatcherStopped
)

func (t DiscoveryEventType) String() string {
	switch t {
	case DeviceAdded:
		return "added"
	case DeviceUpdated:
		return "updated"
	case DeviceRemoved:
		return "removed"
	case EnumerationCompleted:
		return "enumeration-completed"
	case WatcherStopped:
		return "stopped"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// DiscoveryEvent is delivered by a Watcher. Device is only meaningful for
// added, updated and removed events; for removals only the ID is set.
type DiscoveryEvent struct {
	Type   DiscoveryEventType
	Device DiscoveredDevice
}

// Watcher streams discovery events.
//
// Start must not block on handler delivery: events are emitted from
// a watcher-owned goroutine. After the watcher stops, either on its own or
// through Stop, a WatcherStopped event is emitted.
type Watcher interface {
	Start(handler func(DiscoveryEvent)) error
	Stop() error
}

// CacheMode selects whether platform queries may be answered from a cache.
type CacheMode int

const (
	Uncached CacheMode = iota
	Cached
)

// AccessStatus is the answer of Service.RequestAccess.
type AccessStatus int

const (
	AccessAllowed AccessStatus = iota
	AccessDeniedByUser
	AccessDeniedBySystem
	AccessUnspecified
)

func (s AccessStatus) String() string {
	switch s {
	case AccessAllowed:
		return "allowed"
	case AccessDeniedByUser:
		return "denied by user"
	case AccessDeniedBySystem:
		return "denied by system"
	default:
		return "unspecified"
	}
}

// Platform is the BLE stack used by the connection layer.
type Platform interface {
	Watcher() Watcher
	Connect(ctx context.Context, id string) (Peripheral, error)
}

// Peripheral is a connected remote device.
type Peripheral interface {
	ID() string
	Name() string
	IsConnected() bool
	Services(ctx context.Context, mode CacheMode) ([]Service, error)
	Close() error
}

// Service represents a GATT service
type Service interface {
	UUID() string
	RequestAccess(ctx context.Context) (AccessStatus, error)
	Characteristics(ctx context.Context, mode CacheMode) ([]Characteristic, error)
}

// Characteristic represents a GATT characteristic.
// ID is unique within the connection and stable across enumerations.
type Characteristic interface {
	ID() string
	UUID() string
	Properties() Properties
	Read(ctx context.Context, mode CacheMode) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	SetNotify(ctx context.Context, enabled bool, handler func([]byte)) error
}
