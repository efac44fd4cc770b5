package goble

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecon/internal/device"
	"github.com/srg/blecon/internal/groutine"
)

// advertisement is the part of ble.Advertisement the watcher needs.
type advertisement interface {
	LocalName() string
	Addr() ble.Addr
	Connectable() bool
}

type scanFunc func(ctx context.Context, handler func(advertisement)) error

type seenDevice struct {
	name        string
	connectable bool
}

// scanWatcher runs one scan window per Start. The end of a window is reported
// as EnumerationCompleted followed by WatcherStopped; Stop ends the window early
// and reports WatcherStopped only.
type scanWatcher struct {
	scan   scanFunc
	window time.Duration
	logger *logrus.Logger

	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
	handler    func(device.DiscoveryEvent)
	seen       map[string]seenDevice
}

func newScanWatcher(scan scanFunc, window time.Duration, logger *logrus.Logger) *scanWatcher {
	return &scanWatcher{scan: scan, window: window, logger: logger}
}

func (w *scanWatcher) Start(handler func(device.DiscoveryEvent)) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return nil
	}

	w.generation++
	gen := w.generation
	w.handler = handler
	w.seen = make(map[string]seenDevice)

	ctx, cancel := context.WithTimeout(context.Background(), w.window)
	w.cancel = cancel

	groutine.GoSafe(ctx, "ble-scan", w.logger, func(ctx context.Context) {
		w.run(ctx, gen)
	})
	w.logger.WithField("window", w.window).Debug("Scan window started")
	return nil
}

func (w *scanWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	return nil
}

func (w *scanWatcher) run(ctx context.Context, gen uint64) {
	err := w.scan(ctx, func(adv advertisement) {
		w.onAdvertisement(gen, adv)
	})

	completed := errors.Is(ctx.Err(), context.DeadlineExceeded)
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
	default:
		w.logger.WithError(device.NormalizeError(err)).Warn("Scan ended with error")
	}

	w.mu.Lock()
	if w.generation == gen {
		w.cancel = nil
	}
	w.mu.Unlock()

	if completed {
		w.emit(gen, device.DiscoveryEvent{Type: device.EnumerationCompleted})
	}
	w.emit(gen, device.DiscoveryEvent{Type: device.WatcherStopped})
}

func (w *scanWatcher) onAdvertisement(gen uint64, adv advertisement) {
	if adv.Addr() == nil {
		return
	}
	id := adv.Addr().String()
	cur := seenDevice{name: adv.LocalName(), connectable: adv.Connectable()}

	w.mu.Lock()
	if w.generation != gen {
		w.mu.Unlock()
		return
	}
	prev, known := w.seen[id]
	if known && cur.name == "" {
		cur.name = prev.name
	}
	w.seen[id] = cur
	w.mu.Unlock()

	dev := device.NewDiscoveredDevice(id, cur.name, cur.connectable)
	switch {
	case !known:
		w.emit(gen, device.DiscoveryEvent{Type: device.DeviceAdded, Device: dev})
	case prev != cur:
		w.emit(gen, device.DiscoveryEvent{Type: device.DeviceUpdated, Device: dev})
	}
}

// emit drops events of a window that was superseded by a later Start.
func (w *scanWatcher) emit(gen uint64, ev device.DiscoveryEvent) {
	w.mu.Lock()
	handler := w.handler
	current := w.generation == gen
	w.mu.Unlock()

	if current && handler != nil {
		handler(ev)
	}
}
