package testutils

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/srg/blecon/internal/device"
)

// FakePlatform is an in-memory device.Platform. Peripherals added with
// AddPeripheral are advertised every time discovery starts.
type FakePlatform struct {
	mu          sync.Mutex
	watcher     *FakeWatcher
	peripherals []*FakePeripheral
	calls       []string
}

func NewFakePlatform() *FakePlatform {
	p := &FakePlatform{}
	p.watcher = &FakeWatcher{platform: p}
	return p
}

// AddPeripheral registers a peripheral built by b and returns it.
func (p *FakePlatform) AddPeripheral(b *PeripheralBuilder) *FakePeripheral {
	fp := b.Build(p)
	p.mu.Lock()
	p.peripherals = append(p.peripherals, fp)
	p.mu.Unlock()
	return fp
}

func (p *FakePlatform) Watcher() device.Watcher {
	return p.watcher
}

// FakeWatcher returns the concrete watcher for emitting events in tests.
func (p *FakePlatform) FakeWatcher() *FakeWatcher {
	return p.watcher
}

func (p *FakePlatform) Connect(ctx context.Context, id string) (device.Peripheral, error) {
	p.record("connect %s", id)

	p.mu.Lock()
	var found *FakePeripheral
	for _, fp := range p.peripherals {
		if fp.id == id {
			found = fp
		}
	}
	p.mu.Unlock()

	if found == nil {
		return nil, fmt.Errorf("peripheral %s not found", id)
	}
	if found.connectErr != nil {
		return nil, found.connectErr
	}
	if found.connectBlocks {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	found.connected.Store(true)
	return found, nil
}

// Calls returns the log of platform operations in call order.
func (p *FakePlatform) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	copy(out, p.calls)
	return out
}

func (p *FakePlatform) record(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, fmt.Sprintf(format, args...))
}

func (p *FakePlatform) advertised() []device.DiscoveredDevice {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]device.DiscoveredDevice, 0, len(p.peripherals))
	for _, fp := range p.peripherals {
		out = append(out, device.NewDiscoveredDevice(fp.id, fp.name, true))
	}
	return out
}

// FakeWatcher emits an added event for every registered peripheral on Start.
type FakeWatcher struct {
	platform *FakePlatform

	mu      sync.Mutex
	handler func(device.DiscoveryEvent)
	running bool
	starts  int
}

func (w *FakeWatcher) Start(handler func(device.DiscoveryEvent)) error {
	w.mu.Lock()
	w.handler = handler
	w.running = true
	w.starts++
	w.mu.Unlock()

	devices := w.platform.advertised()
	go func() {
		for _, d := range devices {
			handler(device.DiscoveryEvent{Type: device.DeviceAdded, Device: d})
		}
	}()
	return nil
}

func (w *FakeWatcher) Stop() error {
	w.mu.Lock()
	wasRunning := w.running
	w.running = false
	handler := w.handler
	w.mu.Unlock()

	if wasRunning && handler != nil {
		go handler(device.DiscoveryEvent{Type: device.WatcherStopped})
	}
	return nil
}

// Emit delivers an event synchronously to the registered handler.
func (w *FakeWatcher) Emit(ev device.DiscoveryEvent) {
	w.mu.Lock()
	handler := w.handler
	w.mu.Unlock()
	if handler != nil {
		handler(ev)
	}
}

func (w *FakeWatcher) Starts() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.starts
}

func (w *FakeWatcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// FakePeripheral is a connected fake device.
type FakePeripheral struct {
	platform      *FakePlatform
	id            string
	name          string
	services      []*FakeService
	servicesErr   error
	connectErr    error
	connectBlocks bool
	connected     atomic.Bool
	closes        atomic.Int32
}

func (fp *FakePeripheral) ID() string        { return fp.id }
func (fp *FakePeripheral) Name() string      { return fp.name }
func (fp *FakePeripheral) IsConnected() bool { return fp.connected.Load() }

func (fp *FakePeripheral) Services(_ context.Context, mode device.CacheMode) ([]device.Service, error) {
	fp.platform.record("services %s", fp.id)
	if fp.servicesErr != nil {
		return nil, fp.servicesErr
	}
	out := make([]device.Service, len(fp.services))
	for i, s := range fp.services {
		out[i] = s
	}
	return out, nil
}

func (fp *FakePeripheral) Close() error {
	fp.platform.record("close %s", fp.id)
	fp.connected.Store(false)
	fp.closes.Add(1)
	return nil
}

// DropLink simulates the link going away without Close.
func (fp *FakePeripheral) DropLink() {
	fp.connected.Store(false)
}

func (fp *FakePeripheral) Closes() int {
	return int(fp.closes.Load())
}

// Characteristic returns the fake characteristic by UUID, searching all services.
func (fp *FakePeripheral) Characteristic(uuid string) *FakeCharacteristic {
	for _, s := range fp.services {
		for _, c := range s.characteristics {
			if device.NormalizeUUID(c.uuid) == device.NormalizeUUID(uuid) {
				return c
			}
		}
	}
	return nil
}

// FakeService is a GATT service of a FakePeripheral.
type FakeService struct {
	platform        *FakePlatform
	uuid            string
	access          device.AccessStatus
	accessErr       error
	charsErr        error
	characteristics []*FakeCharacteristic
}

func (s *FakeService) UUID() string { return s.uuid }

func (s *FakeService) RequestAccess(context.Context) (device.AccessStatus, error) {
	s.platform.record("access %s", s.uuid)
	return s.access, s.accessErr
}

func (s *FakeService) Characteristics(_ context.Context, _ device.CacheMode) ([]device.Characteristic, error) {
	s.platform.record("characteristics %s", s.uuid)
	if s.charsErr != nil {
		return nil, s.charsErr
	}
	out := make([]device.Characteristic, len(s.characteristics))
	for i, c := range s.characteristics {
		out[i] = c
	}
	return out, nil
}

// FakeCharacteristic records writes and notify toggles, and can push values
// to the last registered notification handler.
type FakeCharacteristic struct {
	platform  *FakePlatform
	service   string
	uuid      string
	props     device.Properties
	readErr   error
	writeErr  error
	notifyErr error

	mu       sync.Mutex
	value    []byte
	writes   [][]byte
	handler  func([]byte)
	notifyOn bool
}

func (c *FakeCharacteristic) ID() string                    { return c.service + "/" + c.uuid }
func (c *FakeCharacteristic) UUID() string                  { return c.uuid }
func (c *FakeCharacteristic) Properties() device.Properties { return c.props }

func (c *FakeCharacteristic) Read(context.Context, device.CacheMode) ([]byte, error) {
	c.platform.record("read %s", c.uuid)
	if c.readErr != nil {
		return nil, c.readErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.value...), nil
}

func (c *FakeCharacteristic) Write(_ context.Context, data []byte) error {
	c.platform.record("write %s", c.uuid)
	if c.writeErr != nil {
		return c.writeErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), data...))
	c.value = append([]byte(nil), data...)
	return nil
}

func (c *FakeCharacteristic) SetNotify(_ context.Context, enabled bool, handler func([]byte)) error {
	c.platform.record("notify %s %t", c.uuid, enabled)
	if c.notifyErr != nil {
		return c.notifyErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifyOn = enabled
	if enabled {
		c.handler = handler
	}
	return nil
}

// Push calls the last registered handler even after notifications were
// disabled, the way a late platform callback would.
func (c *FakeCharacteristic) Push(data []byte) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(data)
	}
}

func (c *FakeCharacteristic) NotifyEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notifyOn
}

func (c *FakeCharacteristic) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}
