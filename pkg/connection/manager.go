// Package connection implements the BLE command layer: one session at a time,
// services and characteristics addressed by name or display index, reads and
// writes rendered through the codec, and notification subscriptions.
package connection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecon/internal/device"
	"github.com/srg/blecon/pkg/codec"
	"github.com/srg/blecon/pkg/registry"
	"github.com/srg/blecon/pkg/resolve"
)

// ConnectResult is the outcome of Connect.
type ConnectResult int

const (
	ConnectOK ConnectResult = iota
	ConnectInvalidName
	ConnectNotFound
	ConnectError
	ConnectUnreachable
)

func (r ConnectResult) String() string {
	switch r {
	case ConnectOK:
		return "ok"
	case ConnectInvalidName:
		return "invalid name"
	case ConnectNotFound:
		return "not found"
	case ConnectError:
		return "error"
	case ConnectUnreachable:
		return "unreachable"
	default:
		return fmt.Sprintf("connect(%d)", int(r))
	}
}

// ServiceStatus is the outcome of OpenService.
type ServiceStatus int

const (
	ServiceOpened ServiceStatus = iota
	// ServiceEmpty means the service opened but exposes no characteristics.
	ServiceEmpty
	ServiceFailed
)

// WriteResult is the outcome of WriteCharacteristic.
type WriteResult int

const (
	WriteSuccess WriteResult = iota
	WriteFailed
	WriteMalformed
	WriteNotDevice
	WriteInvalidCharacteristic
	WriteRestrictedService
	WriteEmptyCharacteristic
)

func (r WriteResult) String() string {
	switch r {
	case WriteSuccess:
		return "success"
	case WriteFailed:
		return "failed"
	case WriteMalformed:
		return "malformed data"
	case WriteNotDevice:
		return "no device"
	case WriteInvalidCharacteristic:
		return "invalid characteristic"
	case WriteRestrictedService:
		return "restricted service"
	case WriteEmptyCharacteristic:
		return "empty characteristic"
	default:
		return fmt.Sprintf("write(%d)", int(r))
	}
}

// Status is the session state as seen by the user.
type Status int

const (
	StatusNotConnected Status = iota
	StatusConnected
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "Connected"
	case StatusDisconnected:
		return "Disconnected"
	default:
		return "Not connected"
	}
}

const (
	DefaultTimeout = 3 * time.Second
	maxTimeoutSecs = 60
)

// Options configures a Manager. Zero values select defaults.
type Options struct {
	Timeout            time.Duration
	Format             codec.DataFormat
	NotificationBuffer int
	RestartDelay       time.Duration
}

// Attribute describes a listed service or characteristic.
type Attribute struct {
	DisplayName string
	UUID        string
	Properties  device.Properties
}

// Manager is the connection state machine and the public command surface.
// Commands are serialized; notifications are delivered on platform goroutines.
type Manager struct {
	platform device.Platform
	registry *registry.Registry
	subs     *SubscriptionManager
	logger   *logrus.Logger

	timeout atomic.Int64
	format  atomic.Int32

	mu      sync.Mutex // one command at a time
	session *Session
}

func New(platform device.Platform, logger *logrus.Logger, opts Options) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	m := &Manager{
		platform: platform,
		logger:   logger,
		registry: registry.New(platform.Watcher(), logger, registry.Options{RestartDelay: opts.RestartDelay}),
	}
	m.timeout.Store(int64(opts.Timeout))
	m.format.Store(int32(opts.Format))
	m.subs = NewSubscriptionManager(func(data []byte) string {
		return codec.Format(data, m.DisplayFormat())
	}, opts.NotificationBuffer, logger)
	return m
}

func (m *Manager) StartScanning() error {
	return m.registry.Start()
}

func (m *Manager) StopScanning() error {
	return m.registry.Stop()
}

// Timeout is the bound applied to discovery waits and to every device operation.
func (m *Manager) Timeout() time.Duration {
	return time.Duration(m.timeout.Load())
}

// SetTimeout changes the timeout when 0 < seconds < 60 and returns the effective value.
func (m *Manager) SetTimeout(seconds int) time.Duration {
	if seconds > 0 && seconds < maxTimeoutSecs {
		m.timeout.Store(int64(time.Duration(seconds) * time.Second))
	} else {
		m.logger.WithField("seconds", seconds).Warn("Timeout must be between 1 and 59 seconds, keeping current value")
	}
	t := m.Timeout()
	m.logger.WithField("timeout", t).Info("Device connection timeout")
	return t
}

func (m *Manager) DisplayFormat() codec.DataFormat {
	return codec.DataFormat(m.format.Load())
}

func (m *Manager) SetDisplayFormat(f codec.DataFormat) {
	m.format.Store(int32(f))
	m.logger.WithField("format", f).Info("Display format changed")
}

// DiscoveredDevices returns the registry snapshot in discovery order.
func (m *Manager) DiscoveredDevices() []device.DiscoveredDevice {
	return m.registry.Snapshot()
}

// ListDeviceNames returns the non-empty discovered names in alphabetical order.
func (m *Manager) ListDeviceNames() []string {
	names := m.registry.Names()
	for i, name := range names {
		m.logger.Infof("#%02d: %s", i, name)
	}
	return names
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.session == nil:
		return StatusNotConnected
	case m.session.peripheral.IsConnected():
		return StatusConnected
	default:
		return StatusDisconnected
	}
}

// SessionInfo returns the connected device name and the open service name.
func (m *Manager) SessionInfo() (deviceName, serviceName string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return "", "", false
	}
	return m.session.DeviceName(), m.session.OpenService(), true
}

// Connect closes any current session, resolves name against the discovered
// devices and connects to the match.
func (m *Manager) Connect(ctx context.Context, name string) (ConnectResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		m.logger.Warn("Device name is required")
		return ConnectInvalidName, ErrInvalidName
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.closeLocked(ctx); err != nil {
		m.logger.WithError(err).Warn("Previous session closed with errors")
	}

	logger := m.logger.WithField("device", name)
	timeout := m.Timeout()

	found, err := m.registry.Resolve(ctx, name, timeout)
	if err != nil {
		var rerr *resolve.Error
		if errors.As(err, &rerr) && rerr.Kind == resolve.KindAmbiguous {
			logger.WithField("candidates", rerr.Candidates).Warn("Device name is ambiguous")
		} else {
			logger.WithError(err).Warn("Device not found")
		}
		return ConnectNotFound, fmt.Errorf("device %q: %w", name, err)
	}

	logger = logger.WithField("id", found.ID())
	logger.Info("Connecting to device...")

	cctx, cancel := context.WithTimeout(ctx, timeout)
	p, err := m.platform.Connect(cctx, found.ID())
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", device.ErrTimeout, err)
		}
		logger.WithError(err).Error("Failed to connect")
		return ConnectError, fmt.Errorf("%w to %s: %w", ErrConnectFailed, found.Name(), device.NormalizeError(err))
	}

	sctx, cancel := context.WithTimeout(ctx, timeout)
	services, err := p.Services(sctx, device.Uncached)
	cancel()
	if err != nil {
		if cerr := p.Close(); cerr != nil {
			logger.WithError(cerr).Debug("Failed to release unreachable device")
		}
		logger.WithError(err).Error("Device unreachable")
		return ConnectUnreachable, fmt.Errorf("%w: %s: %w", ErrUnreachable, found.Name(), platformError(err))
	}

	m.session = newSession(p, found.Name(), services)
	logger.WithField("services", len(services)).Info("Connected")
	for _, dn := range m.session.services.DisplayNames() {
		m.logger.Info(dn)
	}
	return ConnectOK, nil
}

// Close ends the session. It is a no-op without one.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeLocked(ctx)
}

func (m *Manager) closeLocked(ctx context.Context) error {
	s := m.session
	if s == nil {
		return nil
	}

	// teardown must finish even when the caller's context is already cancelled
	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.Timeout())
	defer cancel()

	var errs []error
	if err := m.subs.UnsubscribeAll(uctx); err != nil {
		errs = append(errs, err)
	}

	s.clear()
	m.session = nil

	if err := s.peripheral.Close(); err != nil {
		errs = append(errs, device.NormalizeError(err))
	}

	m.logger.WithField("device", s.DeviceName()).Info("Device disconnected")
	return errors.Join(errs...)
}

// OpenService selects a service and caches its characteristics.
func (m *Manager) OpenService(ctx context.Context, name string) (ServiceStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return ServiceFailed, ErrNotConnected
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return ServiceFailed, fmt.Errorf("%w: service name is required", ErrInvalidName)
	}

	entry, err := m.session.services.Resolve(name)
	if err != nil {
		m.logger.WithError(err).Warn("Invalid service name or number")
		return ServiceFailed, fmt.Errorf("service: %w", err)
	}

	chars, err := m.enumerate(ctx, entry)
	if err != nil {
		m.logger.WithError(err).WithField("service", entry.Name()).Warn("Failed to open service")
		return ServiceFailed, err
	}

	m.session.service = entry
	m.session.characteristics = characteristicCatalog(chars)
	m.session.selected = nil

	logger := m.logger.WithField("service", entry.Name())
	if len(chars) == 0 {
		logger.Info("Service has no characteristics")
		return ServiceEmpty, nil
	}

	logger.WithField("characteristics", len(chars)).Info("Service opened")
	for _, c := range m.session.characteristics.Items() {
		m.logger.WithField("properties", c.Properties().String()).Debug(c.Name())
	}
	return ServiceOpened, nil
}

// Services lists the services of the connected device.
func (m *Manager) Services() []Attribute {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil
	}
	names := m.session.services.DisplayNames()
	out := make([]Attribute, len(names))
	for i, e := range m.session.services.Items() {
		out[i] = Attribute{DisplayName: names[i], UUID: e.UUID()}
	}
	return out
}

// Characteristics lists the characteristics of the open service.
func (m *Manager) Characteristics() []Attribute {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil
	}
	names := m.session.characteristics.DisplayNames()
	out := make([]Attribute, len(names))
	for i, e := range m.session.characteristics.Items() {
		out[i] = Attribute{DisplayName: names[i], UUID: e.UUID(), Properties: e.Properties()}
	}
	return out
}

// ReadCharacteristic reads spec ("service/characteristic" or a bare
// characteristic of the open service) and renders it in the display format.
func (m *Manager) ReadCharacteristic(ctx context.Context, spec string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return "", ErrNotConnected
	}
	service, char, err := splitSpec(spec)
	if err != nil {
		return "", err
	}
	entry, err := m.resolveCharacteristic(ctx, service, char)
	if err != nil {
		return "", err
	}

	rctx, cancel := context.WithTimeout(ctx, m.Timeout())
	defer cancel()
	data, err := entry.char.Read(rctx, device.Uncached)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", entry.Name(), platformError(err))
	}

	text := codec.Format(data, m.DisplayFormat())
	m.logger.WithFields(logrus.Fields{
		"characteristic": entry.Name(),
		"bytes":          len(data),
	}).Info(text)
	return text, nil
}

// WriteCharacteristic parses data in the display format and writes it with
// response. An empty service selects the characteristic from the open service.
func (m *Manager) WriteCharacteristic(ctx context.Context, service, characteristic, data string) (WriteResult, error) {
	format := m.DisplayFormat()
	buf, err := codec.Parse(data, format)
	if err != nil {
		return WriteMalformed, fmt.Errorf("%s data: %w", format, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return WriteNotDevice, ErrNotConnected
	}

	entry, err := m.resolveCharacteristic(ctx, strings.TrimSpace(service), characteristic)
	if err != nil {
		return writeResultFor(err), err
	}

	wctx, cancel := context.WithTimeout(ctx, m.Timeout())
	defer cancel()
	if err := entry.char.Write(wctx, buf); err != nil {
		err = platformError(err)
		return writeResultFor(err), fmt.Errorf("failed to write %s: %w", entry.Name(), err)
	}

	m.logger.WithFields(logrus.Fields{
		"characteristic": entry.Name(),
		"bytes":          len(buf),
	}).Info("Value written")
	return WriteSuccess, nil
}

func writeResultFor(err error) WriteResult {
	switch {
	case errors.Is(err, ErrEmptyCharacteristic):
		return WriteEmptyCharacteristic
	case errors.Is(err, ErrRestrictedService), errors.Is(err, ErrAccessDenied):
		return WriteRestrictedService
	case errors.Is(err, ErrCommunication):
		return WriteFailed
	default:
		return WriteInvalidCharacteristic
	}
}

// Subscribe enables value change notifications for spec.
func (m *Manager) Subscribe(ctx context.Context, spec string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return ErrNotConnected
	}
	service, char, err := splitSpec(spec)
	if err != nil {
		return err
	}
	entry, err := m.resolveCharacteristic(ctx, service, char)
	if err != nil {
		return err
	}

	sctx, cancel := context.WithTimeout(ctx, m.Timeout())
	defer cancel()
	return m.subs.Subscribe(sctx, entry)
}

// Unsubscribe disables notifications for spec, or for every subscription when spec is "all".
func (m *Manager) Unsubscribe(ctx context.Context, spec string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.subs.Len() == 0 {
		return ErrNoSubscriptions
	}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return fmt.Errorf("%w: use \"unsubs <characteristic>\" or \"unsubs all\"", ErrEmptyCharacteristic)
	}

	uctx, cancel := context.WithTimeout(ctx, m.Timeout())
	defer cancel()

	if strings.EqualFold(strings.ReplaceAll(spec, "/", ""), "all") {
		return m.subs.UnsubscribeAll(uctx)
	}

	if m.session == nil {
		return ErrNotConnected
	}
	service, char, err := splitSpec(spec)
	if err != nil {
		return err
	}
	entry, err := m.resolveCharacteristic(ctx, service, char)
	if err != nil {
		return err
	}
	return m.subs.Unsubscribe(uctx, entry)
}

// SubscriptionCount returns the number of active subscriptions.
func (m *Manager) SubscriptionCount() int {
	return m.subs.Len()
}

// Subscriptions returns the names of the subscribed characteristics.
func (m *Manager) Subscriptions() []string {
	return m.subs.Names()
}

// WaitNotification blocks until the next notification is delivered or timeout elapses.
// It does not hold the command lock.
func (m *Manager) WaitNotification(ctx context.Context, timeout time.Duration) (Notification, error) {
	return m.subs.Wait(ctx, timeout)
}

// Notifications is the bounded feed of every delivered notification.
func (m *Manager) Notifications() <-chan Notification {
	return m.subs.Notifications()
}

// Delay pauses the caller, honoring cancellation.
func (m *Manager) Delay(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown closes the session, stops discovery and releases the notification feed.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.closeLocked(ctx)
	if rerr := m.registry.Close(); rerr != nil {
		err = errors.Join(err, rerr)
	}
	m.subs.Close()
	return err
}

// splitSpec parses "service/characteristic" or a bare "characteristic".
// An empty service means the open service.
func splitSpec(spec string) (service, characteristic string, err error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return "", "", ErrEmptyCharacteristic
	}

	parts := strings.Split(spec, "/")
	switch len(parts) {
	case 1:
		return "", parts[0], nil
	case 2:
		service = strings.TrimSpace(parts[0])
		if service == "" {
			return "", "", fmt.Errorf("%w: %q: service name is empty", ErrInvalidCharacteristic, spec)
		}
		return service, strings.TrimSpace(parts[1]), nil
	default:
		return "", "", fmt.Errorf("%w: %q: expected <service>/<characteristic>", ErrInvalidCharacteristic, spec)
	}
}

// resolveCharacteristic addresses a characteristic. With a service name the
// service is resolved against all services and its characteristics are
// enumerated for this call only; without one the open service is used.
func (m *Manager) resolveCharacteristic(ctx context.Context, service, char string) (*CharacteristicEntry, error) {
	char = strings.TrimSpace(char)
	if char == "" {
		return nil, ErrEmptyCharacteristic
	}

	catalog := m.session.characteristics
	if service != "" {
		svc, err := m.session.services.Resolve(service)
		if err != nil {
			return nil, fmt.Errorf("%w: service: %w", ErrInvalidCharacteristic, err)
		}
		chars, err := m.enumerate(ctx, svc)
		if err != nil {
			return nil, err
		}
		catalog = characteristicCatalog(chars)
	} else if m.session.service == nil {
		return nil, ErrNoServiceSelected
	}

	entry, err := catalog.Resolve(char)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCharacteristic, err)
	}
	m.session.selected = entry
	return entry, nil
}

// enumerate requests access to a service and lists its characteristics uncached.
func (m *Manager) enumerate(ctx context.Context, entry *ServiceEntry) ([]device.Characteristic, error) {
	ectx, cancel := context.WithTimeout(ctx, m.Timeout())
	defer cancel()

	access, err := entry.service.RequestAccess(ectx)
	if err != nil {
		return nil, fmt.Errorf("service %s: %w", entry.Name(), platformError(err))
	}
	if access != device.AccessAllowed {
		return nil, fmt.Errorf("%w: service %s: %s", ErrAccessDenied, entry.Name(), access)
	}

	chars, err := entry.service.Characteristics(ectx, device.Uncached)
	if err != nil {
		return nil, fmt.Errorf("service %s: %w", entry.Name(), platformError(err))
	}
	return chars, nil
}
