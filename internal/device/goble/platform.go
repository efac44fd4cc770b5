// Package goble implements device.Platform on top of github.com/go-ble/ble.
package goble

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecon/internal/device"
)

// DefaultScanWindow is the length of one discovery window.
const DefaultScanWindow = 10 * time.Second

// DeviceFactory creates the host controller. Overridden in tests.
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newDefaultDevice

// hostDevice is the part of ble.Device the platform uses.
type hostDevice interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
	Dial(ctx context.Context, a ble.Addr) (ble.Client, error)
}

type Options struct {
	ScanWindow time.Duration
}

// Platform is a device.Platform backed by the default go-ble host device.
// The host device is created lazily so that a powered-off adapter is reported
// by the first scan or connect rather than at startup.
type Platform struct {
	logger *logrus.Logger
	opts   Options

	once    sync.Once
	dev     hostDevice
	devErr  error
	watcher *scanWatcher
}

func NewPlatform(logger *logrus.Logger, opts Options) *Platform {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.ScanWindow <= 0 {
		opts.ScanWindow = DefaultScanWindow
	}
	p := &Platform{logger: logger, opts: opts}
	p.watcher = newScanWatcher(p.scan, opts.ScanWindow, logger)
	return p
}

func (p *Platform) host() (hostDevice, error) {
	p.once.Do(func() {
		dev, err := DeviceFactory()
		if err != nil {
			p.devErr = device.NormalizeError(err)
			p.logger.WithError(p.devErr).Error("Failed to create BLE device")
			return
		}
		p.dev = dev
	})
	return p.dev, p.devErr
}

func (p *Platform) Watcher() device.Watcher {
	return &lazyWatcher{platform: p}
}

func (p *Platform) scan(ctx context.Context, handler func(advertisement)) error {
	dev, err := p.host()
	if err != nil {
		return err
	}
	return dev.Scan(ctx, true, func(adv ble.Advertisement) {
		handler(adv)
	})
}

// Connect dials the peripheral at address id.
func (p *Platform) Connect(ctx context.Context, id string) (device.Peripheral, error) {
	dev, err := p.host()
	if err != nil {
		return nil, err
	}

	logger := p.logger.WithField("address", id)
	logger.Debug("Dialing BLE device...")
	client, err := dev.Dial(ctx, ble.NewAddr(id))
	if err != nil {
		logger.WithError(err).Debug("Dial failed")
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", id, wrapError("dial", err))
	}
	return newPeripheral(id, client, p.logger), nil
}

// lazyWatcher makes sure the host device exists before the first scan window,
// so a missing adapter fails Start instead of the background scan.
type lazyWatcher struct {
	platform *Platform
}

func (w *lazyWatcher) Start(handler func(device.DiscoveryEvent)) error {
	if _, err := w.platform.host(); err != nil {
		return err
	}
	return w.platform.watcher.Start(handler)
}

func (w *lazyWatcher) Stop() error {
	return w.platform.watcher.Stop()
}
