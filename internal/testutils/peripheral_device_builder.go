package testutils

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/srg/blecon/internal/device"
)

// CharacteristicConfig represents a characteristic of a fake peripheral
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties,omitempty"` // e.g., "read,write,notify"
	Value      []byte `json:"value,omitempty"`
}

// ServiceConfig represents a service of a fake peripheral
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// PeripheralConfig is the JSON form of a fake peripheral
type PeripheralConfig struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Services []ServiceConfig `json:"services"`
}

type serviceFaults struct {
	access    device.AccessStatus
	accessErr error
	charsErr  error
}

type characteristicFaults struct {
	readErr, writeErr, notifyErr error
}

// PeripheralBuilder configures a FakePeripheral with a fluent API:
//
//	b := testutils.NewPeripheralBuilder("AA:BB:CC:DD:EE:FF", "Thermo").
//	    WithService("180F").
//	    WithCharacteristic("2A19", "read,notify", []byte{50})
//	fp := platform.AddPeripheral(b)
type PeripheralBuilder struct {
	config        PeripheralConfig
	servicesErr   error
	connectErr    error
	connectBlocks bool
	svcFaults     map[int]*serviceFaults
	charFaults    map[[2]int]*characteristicFaults
}

func NewPeripheralBuilder(id, name string) *PeripheralBuilder {
	return &PeripheralBuilder{
		config:     PeripheralConfig{ID: id, Name: name},
		svcFaults:  map[int]*serviceFaults{},
		charFaults: map[[2]int]*characteristicFaults{},
	}
}

// FromJSON replaces the configuration with a JSON description
func (b *PeripheralBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralBuilder {
	var config PeripheralConfig
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &config); err != nil {
		panic(fmt.Sprintf("PeripheralBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	b.config = config
	return b
}

// WithService appends a service
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	b.config.Services = append(b.config.Services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic appends a characteristic to the last added service
func (b *PeripheralBuilder) WithCharacteristic(uuid, properties string, value []byte) *PeripheralBuilder {
	si := b.lastService("WithCharacteristic")
	b.config.Services[si].Characteristics = append(b.config.Services[si].Characteristics, CharacteristicConfig{
		UUID:       uuid,
		Properties: properties,
		Value:      value,
	})
	return b
}

func (b *PeripheralBuilder) WithConnectError(err error) *PeripheralBuilder {
	b.connectErr = err
	return b
}

// WithConnectBlocking makes Connect wait for its context to end.
func (b *PeripheralBuilder) WithConnectBlocking() *PeripheralBuilder {
	b.connectBlocks = true
	return b
}

func (b *PeripheralBuilder) WithServicesError(err error) *PeripheralBuilder {
	b.servicesErr = err
	return b
}

// WithAccess sets the access answer of the last added service
func (b *PeripheralBuilder) WithAccess(status device.AccessStatus, err error) *PeripheralBuilder {
	f := b.serviceFaults(b.lastService("WithAccess"))
	f.access, f.accessErr = status, err
	return b
}

// WithCharacteristicsError makes enumeration of the last added service fail
func (b *PeripheralBuilder) WithCharacteristicsError(err error) *PeripheralBuilder {
	b.serviceFaults(b.lastService("WithCharacteristicsError")).charsErr = err
	return b
}

// WithReadError makes reads of the last added characteristic fail
func (b *PeripheralBuilder) WithReadError(err error) *PeripheralBuilder {
	b.lastCharacteristicFaults("WithReadError").readErr = err
	return b
}

// WithWriteError makes writes of the last added characteristic fail
func (b *PeripheralBuilder) WithWriteError(err error) *PeripheralBuilder {
	b.lastCharacteristicFaults("WithWriteError").writeErr = err
	return b
}

// WithNotifyError makes notify toggles of the last added characteristic fail
func (b *PeripheralBuilder) WithNotifyError(err error) *PeripheralBuilder {
	b.lastCharacteristicFaults("WithNotifyError").notifyErr = err
	return b
}

// Build creates the FakePeripheral bound to platform
func (b *PeripheralBuilder) Build(platform *FakePlatform) *FakePeripheral {
	fp := &FakePeripheral{
		platform:      platform,
		id:            b.config.ID,
		name:          b.config.Name,
		servicesErr:   b.servicesErr,
		connectErr:    b.connectErr,
		connectBlocks: b.connectBlocks,
	}

	for si, sc := range b.config.Services {
		svc := &FakeService{platform: platform, uuid: sc.UUID}
		if f, ok := b.svcFaults[si]; ok {
			svc.access, svc.accessErr, svc.charsErr = f.access, f.accessErr, f.charsErr
		}
		for ci, cc := range sc.Characteristics {
			ch := &FakeCharacteristic{
				platform: platform,
				service:  sc.UUID,
				uuid:     cc.UUID,
				props:    ParseProperties(cc.Properties),
				value:    cc.Value,
			}
			if f, ok := b.charFaults[[2]int{si, ci}]; ok {
				ch.readErr, ch.writeErr, ch.notifyErr = f.readErr, f.writeErr, f.notifyErr
			}
			svc.characteristics = append(svc.characteristics, ch)
		}
		fp.services = append(fp.services, svc)
	}
	return fp
}

// ParseProperties converts "read,write,notify" into property flags.
// An empty string means read, write and notify.
func ParseProperties(props string) device.Properties {
	if strings.TrimSpace(props) == "" {
		return device.PropRead | device.PropWrite | device.PropNotify
	}

	var p device.Properties
	for _, name := range strings.Split(props, ",") {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "broadcast":
			p |= device.PropBroadcast
		case "read":
			p |= device.PropRead
		case "write-without-response", "writenr":
			p |= device.PropWriteWithoutResponse
		case "write":
			p |= device.PropWrite
		case "notify":
			p |= device.PropNotify
		case "indicate":
			p |= device.PropIndicate
		default:
			panic(fmt.Sprintf("ParseProperties: unknown property %q", name))
		}
	}
	return p
}

func (b *PeripheralBuilder) lastService(caller string) int {
	if len(b.config.Services) == 0 {
		panic(caller + ": no service added yet, call WithService first")
	}
	return len(b.config.Services) - 1
}

func (b *PeripheralBuilder) serviceFaults(si int) *serviceFaults {
	f, ok := b.svcFaults[si]
	if !ok {
		f = &serviceFaults{}
		b.svcFaults[si] = f
	}
	return f
}

func (b *PeripheralBuilder) lastCharacteristicFaults(caller string) *characteristicFaults {
	si := b.lastService(caller)
	ci := len(b.config.Services[si].Characteristics) - 1
	if ci < 0 {
		panic(caller + ": no characteristic added yet, call WithCharacteristic first")
	}
	key := [2]int{si, ci}
	f, ok := b.charFaults[key]
	if !ok {
		f = &characteristicFaults{}
		b.charFaults[key] = f
	}
	return f
}
