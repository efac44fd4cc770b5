package goble

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecon/internal/device"
)

// gattClient is the part of ble.Client used by the adapter.
type gattClient interface {
	Profile() *ble.Profile
	DiscoverServices(filter []ble.UUID) ([]*ble.Service, error)
	DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error)
	DiscoverDescriptors(filter []ble.UUID, c *ble.Characteristic) ([]*ble.Descriptor, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	CancelConnection() error
}

type peripheral struct {
	id     string
	client gattClient
	logger *logrus.Logger
	closed atomic.Bool

	// go-ble appends discovery results to the service and characteristic
	// it is given; discoverMu keeps reset-and-rediscover atomic.
	discoverMu sync.Mutex
}

func newPeripheral(id string, client gattClient, logger *logrus.Logger) *peripheral {
	return &peripheral{id: id, client: client, logger: logger}
}

func (p *peripheral) ID() string { return p.id }

func (p *peripheral) Name() string {
	if named, ok := p.client.(interface{ Name() string }); ok {
		return named.Name()
	}
	return ""
}

// IsConnected reports the link state. Clients without a disconnect channel
// are considered connected until Close.
func (p *peripheral) IsConnected() bool {
	if p.closed.Load() {
		return false
	}
	if dc, ok := p.client.(interface{ Disconnected() <-chan struct{} }); ok {
		select {
		case <-dc.Disconnected():
			return false
		default:
		}
	}
	return true
}

func (p *peripheral) Services(ctx context.Context, mode device.CacheMode) ([]device.Service, error) {
	var services []*ble.Service
	if mode == device.Cached {
		if prof := p.client.Profile(); prof != nil {
			services = prof.Services
		}
	}
	if services == nil {
		var err error
		services, err = call(ctx, "discover services", func() ([]*ble.Service, error) {
			return p.client.DiscoverServices(nil)
		})
		if err != nil {
			return nil, err
		}
	}

	out := make([]device.Service, len(services))
	for i, s := range services {
		out[i] = &service{peripheral: p, svc: s, index: i}
	}
	p.logger.WithFields(logrus.Fields{
		"address":  p.id,
		"services": len(out),
	}).Debug("Services discovered")
	return out, nil
}

func (p *peripheral) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	if err := p.client.CancelConnection(); err != nil {
		return device.NormalizeError(err)
	}
	return nil
}

type service struct {
	peripheral *peripheral
	svc        *ble.Service
	index      int
}

func (s *service) UUID() string { return s.svc.UUID.String() }

// RequestAccess always grants access; go-ble has no per-service consent model.
func (s *service) RequestAccess(context.Context) (device.AccessStatus, error) {
	return device.AccessAllowed, nil
}

func (s *service) Characteristics(ctx context.Context, mode device.CacheMode) ([]device.Characteristic, error) {
	p := s.peripheral
	p.discoverMu.Lock()
	chars := s.svc.Characteristics
	p.discoverMu.Unlock()

	if mode == device.Uncached || chars == nil {
		var err error
		chars, err = call(ctx, "discover characteristics", s.discover)
		if err != nil {
			return nil, err
		}
	}

	out := make([]device.Characteristic, len(chars))
	for i, c := range chars {
		out[i] = &characteristic{service: s, char: c, index: i}
	}
	return out, nil
}

// discover replaces the characteristics of the service with a fresh
// enumeration, including the descriptors that locate each CCCD.
func (s *service) discover() ([]*ble.Characteristic, error) {
	p := s.peripheral
	p.discoverMu.Lock()
	defer p.discoverMu.Unlock()

	s.svc.Characteristics = nil
	found, err := p.client.DiscoverCharacteristics(nil, s.svc)
	if err != nil {
		return nil, err
	}
	found = append([]*ble.Characteristic(nil), found...)

	for _, c := range found {
		c.Descriptors = nil
		if _, err := p.client.DiscoverDescriptors(nil, c); err != nil {
			p.logger.WithError(err).WithField("char_uuid", c.UUID.String()).Debug("Descriptor discovery failed")
		}
	}
	return found, nil
}

type characteristic struct {
	service *service
	char    *ble.Characteristic
	index   int

	mu         sync.Mutex
	subscribed bool
}

// ID identifies the characteristic by enumeration position. Handles are not
// usable here: the darwin backend leaves them zero.
func (c *characteristic) ID() string {
	return fmt.Sprintf("%s#%d/%s#%d", c.service.UUID(), c.service.index, c.char.UUID.String(), c.index)
}

func (c *characteristic) UUID() string { return c.char.UUID.String() }

func (c *characteristic) Properties() device.Properties {
	return convertProperties(c.char.Property)
}

func (c *characteristic) client() gattClient {
	return c.service.peripheral.client
}

// Read always queries the device; go-ble keeps no value cache.
func (c *characteristic) Read(ctx context.Context, _ device.CacheMode) ([]byte, error) {
	return call(ctx, "read", func() ([]byte, error) {
		return c.client().ReadCharacteristic(c.char)
	})
}

func (c *characteristic) Write(ctx context.Context, data []byte) error {
	value := append([]byte(nil), data...)
	return exec(ctx, "write", func() error {
		return c.client().WriteCharacteristic(c.char, value, false)
	})
}

// SetNotify enables notifications, falling back to indications when the
// characteristic only supports those.
func (c *characteristic) SetNotify(ctx context.Context, enabled bool, handler func([]byte)) error {
	props := c.Properties()
	ind := !props.Has(device.PropNotify) && props.Has(device.PropIndicate)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !enabled {
		if !c.subscribed {
			return nil
		}
		if err := exec(ctx, "unsubscribe", func() error {
			return c.client().Unsubscribe(c.char, ind)
		}); err != nil {
			return err
		}
		c.subscribed = false
		return nil
	}

	if err := exec(ctx, "subscribe", func() error {
		return c.client().Subscribe(c.char, ind, func(data []byte) {
			handler(data)
		})
	}); err != nil {
		return err
	}
	c.subscribed = true
	return nil
}
