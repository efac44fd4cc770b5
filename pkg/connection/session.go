package connection

import (
	"github.com/srg/blecon/internal/device"
	"github.com/srg/blecon/pkg/resolve"
)

// ServiceEntry is a service as listed to the user.
type ServiceEntry struct {
	name    string
	service device.Service
}

func newServiceEntry(s device.Service) *ServiceEntry {
	return &ServiceEntry{name: device.ServiceName(s.UUID()), service: s}
}

func (e *ServiceEntry) Name() string { return e.name }
func (e *ServiceEntry) UUID() string { return e.service.UUID() }

// CharacteristicEntry is a characteristic as listed to the user.
type CharacteristicEntry struct {
	name string
	char device.Characteristic
}

func newCharacteristicEntry(c device.Characteristic) *CharacteristicEntry {
	return &CharacteristicEntry{name: device.CharacteristicName(c.UUID()), char: c}
}

func (e *CharacteristicEntry) Name() string                  { return e.name }
func (e *CharacteristicEntry) UUID() string                  { return e.char.UUID() }
func (e *CharacteristicEntry) Properties() device.Properties { return e.char.Properties() }

// Session is the state of the one live connection. It exists only between a
// successful Connect and the matching Close.
type Session struct {
	peripheral      device.Peripheral
	deviceName      string
	services        *resolve.Catalog[*ServiceEntry]
	service         *ServiceEntry // open service, nil until OpenService succeeds
	characteristics *resolve.Catalog[*CharacteristicEntry]
	selected        *CharacteristicEntry // last addressed characteristic
}

func newSession(p device.Peripheral, name string, services []device.Service) *Session {
	s := &Session{
		peripheral:      p,
		deviceName:      name,
		services:        resolve.NewCatalog[*ServiceEntry](),
		characteristics: resolve.NewCatalog[*CharacteristicEntry](),
	}
	for _, svc := range services {
		s.services.Add(newServiceEntry(svc))
	}
	return s
}

func (s *Session) DeviceName() string { return s.deviceName }

// OpenService returns the name of the open service, or "".
func (s *Session) OpenService() string {
	if s.service == nil {
		return ""
	}
	return s.service.Name()
}

func (s *Session) clear() {
	s.services.Clear()
	s.characteristics.Clear()
	s.service = nil
	s.selected = nil
}

func characteristicCatalog(chars []device.Characteristic) *resolve.Catalog[*CharacteristicEntry] {
	c := resolve.NewCatalog[*CharacteristicEntry]()
	for _, ch := range chars {
		c.Add(newCharacteristicEntry(ch))
	}
	return c
}
