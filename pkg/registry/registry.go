// Package registry keeps the live set of discovered peripherals.
//
// A single actor goroutine owns the device list. Watcher callbacks and public
// calls only exchange messages with it, so no lock guards the list itself.
// Discovery is supervised: when the watcher stops on its own the list is
// cleared and scanning restarts, until Stop is called.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecon/internal/device"
	"github.com/srg/blecon/internal/groutine"
	"github.com/srg/blecon/pkg/resolve"
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("device registry closed")

// State is the discovery supervisor state.
type State int

const (
	Idle State = iota
	Scanning
	Restarting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Restarting:
		return "restarting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const mailboxSize = 256

// Options configures a Registry.
type Options struct {
	// RestartDelay is the pause before retrying a failed watcher restart.
	RestartDelay time.Duration
}

// Registry is the DeviceRegistry. Create it with New and release it with Close.
type Registry struct {
	watcher device.Watcher
	logger  *logrus.Logger
	opts    Options

	mailbox chan any
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	// owned by the actor goroutine
	state   State
	devices []device.DiscoveredDevice
	waiters map[*waiter]struct{}
}

type matchFunc func([]device.DiscoveredDevice) (device.DiscoveredDevice, error)

type waitResult struct {
	device device.DiscoveredDevice
	err    error
}

type waiter struct {
	match   matchFunc
	result  chan waitResult
	lastErr error
}

type (
	eventMsg    struct{ event device.DiscoveryEvent }
	startMsg    struct{ reply chan error }
	stopMsg     struct{ reply chan error }
	restartMsg  struct{}
	stateMsg    struct{ reply chan State }
	snapshotMsg struct {
		reply chan []device.DiscoveredDevice
	}
	waitMsg   struct{ w *waiter }
	cancelMsg struct {
		w     *waiter
		reply chan error
	}
)

// New creates a registry over the given watcher and starts its actor.
// Scanning does not begin until Start is called.
func New(watcher device.Watcher, logger *logrus.Logger, opts Options) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		watcher: watcher,
		logger:  logger,
		opts:    opts,
		mailbox: make(chan any, mailboxSize),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		waiters: make(map[*waiter]struct{}),
	}

	groutine.GoSafe(ctx, "device-registry", logger, r.run)
	return r
}

// Start begins persistent discovery.
func (r *Registry) Start() error {
	reply := make(chan error, 1)
	if err := r.send(startMsg{reply: reply}); err != nil {
		return err
	}
	return r.await(reply)
}

// Stop ends discovery. The last snapshot is kept.
func (r *Registry) Stop() error {
	reply := make(chan error, 1)
	if err := r.send(stopMsg{reply: reply}); err != nil {
		return err
	}
	return r.await(reply)
}

// State returns the current supervisor state.
func (r *Registry) State() State {
	reply := make(chan State, 1)
	if r.send(stateMsg{reply: reply}) != nil {
		return Idle
	}
	select {
	case s := <-reply:
		return s
	case <-r.done:
		return Idle
	}
}

// Snapshot returns the discovered devices in discovery order.
func (r *Registry) Snapshot() []device.DiscoveredDevice {
	reply := make(chan []device.DiscoveredDevice, 1)
	if r.send(snapshotMsg{reply: reply}) != nil {
		return nil
	}
	select {
	case devices := <-reply:
		return devices
	case <-r.done:
		return nil
	}
}

// FindByID waits up to timeout for a device with exactly this id.
func (r *Registry) FindByID(ctx context.Context, id string, timeout time.Duration) (device.DiscoveredDevice, error) {
	return r.wait(ctx, timeout, func(devices []device.DiscoveredDevice) (device.DiscoveredDevice, error) {
		for _, d := range devices {
			if d.ID() == id {
				return d, nil
			}
		}
		return device.DiscoveredDevice{}, &resolve.Error{Kind: resolve.KindNotFound, Token: id}
	})
}

// FindByName waits up to timeout for a device with exactly this name.
func (r *Registry) FindByName(ctx context.Context, name string, timeout time.Duration) (device.DiscoveredDevice, error) {
	return r.wait(ctx, timeout, func(devices []device.DiscoveredDevice) (device.DiscoveredDevice, error) {
		for _, d := range devices {
			if d.Name() == name {
				return d, nil
			}
		}
		return device.DiscoveredDevice{}, &resolve.Error{Kind: resolve.KindNotFound, Token: name}
	})
}

// Resolve waits up to timeout for token to select exactly one named device.
// An exact name match wins over prefix matching. Display indices follow the
// alphabetical order used by Names. An ambiguous token fails at once.
func (r *Registry) Resolve(ctx context.Context, token string, timeout time.Duration) (device.DiscoveredDevice, error) {
	return r.wait(ctx, timeout, func(devices []device.DiscoveredDevice) (device.DiscoveredDevice, error) {
		named := make([]device.DiscoveredDevice, 0, len(devices))
		for _, d := range devices {
			if d.Name() == token {
				return d, nil
			}
			if d.Name() != "" {
				named = append(named, d)
			}
		}
		sortByName(named)
		return resolve.Resolve(named, token)
	})
}

// Names returns the non-empty device names in alphabetical order.
func (r *Registry) Names() []string {
	devices := r.Snapshot()
	names := make([]string, 0, len(devices))
	for _, d := range devices {
		if d.Name() != "" {
			names = append(names, d.Name())
		}
	}
	sort.Strings(names)
	return names
}

func sortByName(devices []device.DiscoveredDevice) {
	sort.SliceStable(devices, func(i, j int) bool {
		return devices[i].Name() < devices[j].Name()
	})
}

// Close stops discovery and terminates the actor. Pending waits fail with ErrClosed.
func (r *Registry) Close() error {
	err := r.Stop()
	r.cancel()
	<-r.done
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

func (r *Registry) wait(ctx context.Context, timeout time.Duration, match matchFunc) (device.DiscoveredDevice, error) {
	w := &waiter{match: match, result: make(chan waitResult, 1)}
	if err := r.send(waitMsg{w: w}); err != nil {
		return device.DiscoveredDevice{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-w.result:
		return res.device, res.err
	case <-timer.C:
		return r.cancelWait(w, fmt.Errorf("%w: no match after %v", device.ErrTimeout, timeout))
	case <-ctx.Done():
		return r.cancelWait(w, ctx.Err())
	}
}

// cancelWait withdraws a waiter. A result delivered concurrently with the
// cancellation is not lost.
func (r *Registry) cancelWait(w *waiter, cause error) (device.DiscoveredDevice, error) {
	reply := make(chan error, 1)
	if r.send(cancelMsg{w: w, reply: reply}) == nil {
		select {
		case lastErr := <-reply:
			if lastErr != nil {
				cause = fmt.Errorf("%w: %w", cause, lastErr)
			}
		case <-r.done:
		}
	}

	select {
	case res := <-w.result:
		return res.device, res.err
	default:
		return device.DiscoveredDevice{}, cause
	}
}

func (r *Registry) send(msg any) error {
	select {
	case r.mailbox <- msg:
		return nil
	case <-r.ctx.Done():
		return ErrClosed
	}
}

func (r *Registry) await(reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-r.done:
		return ErrClosed
	}
}

// onEvent is handed to the watcher. It only enqueues.
func (r *Registry) onEvent(ev device.DiscoveryEvent) {
	_ = r.send(eventMsg{event: ev})
}

func (r *Registry) run(ctx context.Context) {
	defer close(r.done)
	defer r.failWaiters(ErrClosed)

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-r.mailbox:
			r.handle(msg)
		}
	}
}

func (r *Registry) handle(msg any) {
	switch m := msg.(type) {
	case eventMsg:
		r.handleEvent(m.event)
	case startMsg:
		m.reply <- r.startScanning()
	case stopMsg:
		m.reply <- r.stopScanning()
	case restartMsg:
		if r.state == Restarting {
			r.restart()
		}
	case stateMsg:
		m.reply <- r.state
	case snapshotMsg:
		m.reply <- r.snapshot()
	case waitMsg:
		r.waiters[m.w] = struct{}{}
		r.resolveWaiters()
	case cancelMsg:
		delete(r.waiters, m.w)
		m.reply <- m.w.lastErr
	}
}

func (r *Registry) startScanning() error {
	if r.state != Idle {
		return nil
	}
	if err := r.watcher.Start(r.onEvent); err != nil {
		return fmt.Errorf("failed to start discovery: %w", device.NormalizeError(err))
	}
	r.state = Scanning
	r.logger.Debug("Device discovery started")
	return nil
}

func (r *Registry) stopScanning() error {
	if r.state == Idle {
		return nil
	}
	wasScanning := r.state == Scanning
	r.state = Idle
	if !wasScanning {
		return nil
	}
	if err := r.watcher.Stop(); err != nil {
		return fmt.Errorf("failed to stop discovery: %w", device.NormalizeError(err))
	}
	r.logger.Debug("Device discovery stopped")
	return nil
}

func (r *Registry) restart() {
	if err := r.watcher.Start(r.onEvent); err != nil {
		r.logger.WithError(err).WithField("retry_in", r.opts.RestartDelay).Warn("Failed to restart device discovery")
		time.AfterFunc(r.opts.RestartDelay, func() { _ = r.send(restartMsg{}) })
		return
	}
	r.state = Scanning
	r.logger.Debug("Device discovery restarted")
}

func (r *Registry) handleEvent(ev device.DiscoveryEvent) {
	logger := r.logger.WithFields(logrus.Fields{
		"event": ev.Type.String(),
		"id":    ev.Device.ID(),
		"name":  ev.Device.Name(),
	})

	switch ev.Type {
	case device.DeviceAdded:
		if r.indexOf(ev.Device.ID(), ev.Device.Name()) >= 0 {
			return
		}
		r.devices = append(r.devices, ev.Device)
		logger.Debug("Device added")
		r.resolveWaiters()

	case device.DeviceUpdated:
		i := r.indexOf(ev.Device.ID(), "")
		if i < 0 {
			return
		}
		current := r.devices[i].WithConnectable(ev.Device.IsConnectable())
		if name := ev.Device.Name(); name != "" && name != current.Name() && r.indexOf("", name) < 0 {
			current = current.WithName(name)
		}
		r.devices[i] = current
		logger.Debug("Device updated")
		r.resolveWaiters()

	case device.DeviceRemoved:
		if i := r.indexOf(ev.Device.ID(), ""); i >= 0 {
			r.devices = append(r.devices[:i], r.devices[i+1:]...)
			logger.Debug("Device removed")
		}

	case device.EnumerationCompleted:
		logger.Debug("Device enumeration completed")
		if r.state == Scanning {
			if err := r.watcher.Stop(); err != nil {
				logger.WithError(err).Warn("Failed to stop discovery after enumeration")
			}
		}

	case device.WatcherStopped:
		if r.state != Scanning {
			return
		}
		logger.WithField("devices", len(r.devices)).Debug("Device discovery stopped by platform, restarting")
		r.devices = nil
		r.state = Restarting
		r.restart()
	}
}

// indexOf finds an entry with the given id, or with the given name.
// Empty arguments are not compared.
func (r *Registry) indexOf(id, name string) int {
	for i, d := range r.devices {
		if id != "" && d.ID() == id {
			return i
		}
		if name != "" && d.Name() == name {
			return i
		}
	}
	return -1
}

func (r *Registry) snapshot() []device.DiscoveredDevice {
	out := make([]device.DiscoveredDevice, len(r.devices))
	copy(out, r.devices)
	return out
}

func (r *Registry) resolveWaiters() {
	if len(r.waiters) == 0 {
		return
	}
	devices := r.snapshot()
	for w := range r.waiters {
		d, err := w.match(devices)
		switch {
		case errors.Is(err, resolve.ErrAmbiguous):
			// more devices can only add candidates
			w.result <- waitResult{err: err}
			delete(r.waiters, w)
		case err != nil:
			w.lastErr = err
		default:
			w.result <- waitResult{device: d}
			delete(r.waiters, w)
		}
	}
}

func (r *Registry) failWaiters(err error) {
	for w := range r.waiters {
		w.result <- waitResult{err: err}
		delete(r.waiters, w)
	}
}
