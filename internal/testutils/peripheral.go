//go:build test

package testutils

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	blelib "github.com/go-ble/ble"
	"github.com/srg/nervous/internal/link"
	"github.com/srg/nervous/internal/testutils/mocks"
	"github.com/stretchr/testify/mock"
)

// CharacteristicConfig represents a BLE characteristic configuration for mocking
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties,omitempty"` // e.g., "read,write,notify"
	Value      []byte `json:"value,omitempty"`
}

// ServiceConfig represents a BLE service configuration for mocking
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// DeviceProfileConfig represents the complete device profile for mocking
type DeviceProfileConfig struct {
	Services []ServiceConfig `json:"services"`
}

// SensorProfileJSON is the GATT layout of the body sensors: the UART-style
// data service plus the standard battery service.
var SensorProfileJSON = fmt.Sprintf(`{
	"services": [
		{
			"uuid": "6e400001-b5a3-f393-e0a9-e50e24dcca9e",
			"characteristics": [
				{ "uuid": %q, "properties": "notify" },
				{ "uuid": %q, "properties": "write" }
			]
		},
		{
			"uuid": "0000180f-0000-1000-8000-00805f9b34fb",
			"characteristics": [
				{ "uuid": %q, "properties": "read,notify", "value": [87] }
			]
		}
	]
}`, link.DataUUID, link.TimeSyncUUID, link.BatteryLevelUUID)

// PeripheralBuilder builds a mocked radio that advertises a single named
// peripheral with a configurable GATT profile.
type PeripheralBuilder struct {
	name        string
	address     string
	rssi        int
	others      []Advertiser
	profile     DeviceProfileConfig
	scanErr     error
	dialErr     error
	discoverErr error
}

func NewPeripheralBuilder() *PeripheralBuilder {
	b := &PeripheralBuilder{address: "AA:BB:CC:DD:EE:FF", rssi: -50}
	return b.FromJSON(SensorProfileJSON)
}

// FromJSON replaces the device profile.
func (b *PeripheralBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralBuilder {
	jsonStr := jsonStrFmt
	if len(args) > 0 {
		jsonStr = fmt.Sprintf(jsonStrFmt, args...)
	}

	var config DeviceProfileConfig
	if err := json.Unmarshal([]byte(jsonStr), &config); err != nil {
		panic(fmt.Sprintf("PeripheralBuilder.FromJSON: failed to unmarshal: %v", err))
	}

	b.profile = config
	return b
}

// WithName sets the advertised local name. An unnamed peripheral is never
// advertised.
func (b *PeripheralBuilder) WithName(name string) *PeripheralBuilder {
	b.name = name
	return b
}

func (b *PeripheralBuilder) WithAddress(address string) *PeripheralBuilder {
	b.address = address
	return b
}

func (b *PeripheralBuilder) WithRSSI(rssi int) *PeripheralBuilder {
	b.rssi = rssi
	return b
}

// Advertiser is another device heard during a scan. It can be seen but not
// dialed.
type Advertiser struct {
	Name    string
	Address string
	RSSI    int
}

// WithAdvertiser adds a device that advertises after the peripheral.
func (b *PeripheralBuilder) WithAdvertiser(name, address string, rssi int) *PeripheralBuilder {
	b.others = append(b.others, Advertiser{Name: name, Address: address, RSSI: rssi})
	return b
}

func (b *PeripheralBuilder) WithScanError(err error) *PeripheralBuilder {
	b.scanErr = err
	return b
}

func (b *PeripheralBuilder) WithDialError(err error) *PeripheralBuilder {
	b.dialErr = err
	return b
}

func (b *PeripheralBuilder) WithDiscoverError(err error) *PeripheralBuilder {
	b.discoverErr = err
	return b
}

func parseCharacteristicProperties(props string) blelib.Property {
	if props == "" {
		return blelib.CharRead | blelib.CharWrite | blelib.CharNotify
	}

	var property blelib.Property
	for _, p := range strings.Split(props, ",") {
		switch strings.TrimSpace(p) {
		case "read":
			property |= blelib.CharRead
		case "write":
			property |= blelib.CharWrite | blelib.CharWriteNR
		case "notify":
			property |= blelib.CharNotify
		case "indicate":
			property |= blelib.CharIndicate
		}
	}
	return property
}

// Peripheral is a built mock radio plus hooks to drive it.
type Peripheral struct {
	Device *mocks.MockDevice
	Client *mocks.MockClient

	mu       sync.Mutex
	chars    map[string]*blelib.Characteristic
	handlers map[string]blelib.NotificationHandler
	writes   map[string][][]byte
	dropped  bool
}

// Build creates the mocked device with expectations for scanning, dialing,
// profile discovery, subscriptions, reads and writes.
func (b *PeripheralBuilder) Build() *Peripheral {
	p := &Peripheral{
		Device:   &mocks.MockDevice{},
		Client:   &mocks.MockClient{Done: make(chan struct{})},
		chars:    make(map[string]*blelib.Characteristic),
		handlers: make(map[string]blelib.NotificationHandler),
		writes:   make(map[string][][]byte),
	}

	var services []*blelib.Service
	for _, svcConfig := range b.profile.Services {
		svc := &blelib.Service{UUID: blelib.MustParse(svcConfig.UUID)}
		for _, charConfig := range svcConfig.Characteristics {
			c := &blelib.Characteristic{
				UUID:     blelib.MustParse(charConfig.UUID),
				Property: parseCharacteristicProperties(charConfig.Properties),
				Value:    charConfig.Value,
			}
			svc.Characteristics = append(svc.Characteristics, c)
			p.chars[strings.ToLower(charConfig.UUID)] = c
		}
		services = append(services, svc)
	}
	profile := &blelib.Profile{Services: services}

	var advs []blelib.Advertisement
	if b.name != "" {
		advs = append(advs, newAdvertisement(Advertiser{Name: b.name, Address: b.address, RSSI: b.rssi}))
	}
	for _, other := range b.others {
		advs = append(advs, newAdvertisement(other))
	}

	p.Device.On("Scan", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			if b.scanErr != nil {
				return
			}
			handler := args.Get(2).(blelib.AdvHandler)
			for _, adv := range advs {
				handler(adv)
			}
		}).
		Return(b.scanErr).Maybe()

	if b.dialErr != nil {
		p.Device.On("Dial", mock.Anything, mock.Anything).Return(nil, b.dialErr).Maybe()
	} else {
		p.Device.On("Dial", mock.Anything, mock.Anything).Return(p.Client, nil).Maybe()
	}

	if b.discoverErr != nil {
		p.Client.On("DiscoverProfile", true).Return(nil, b.discoverErr).Maybe()
	} else {
		p.Client.On("DiscoverProfile", true).Return(profile, nil).Maybe()
	}
	p.Client.On("CancelConnection").Return(nil).Maybe()

	for key, c := range p.chars {
		p.Client.On("Subscribe", c, false, mock.Anything).
			Run(func(args mock.Arguments) {
				p.mu.Lock()
				p.handlers[key] = args.Get(2).(blelib.NotificationHandler)
				p.mu.Unlock()
			}).
			Return(nil).Maybe()
		p.Client.On("Unsubscribe", c, false).
			Run(func(mock.Arguments) {
				p.mu.Lock()
				delete(p.handlers, key)
				p.mu.Unlock()
			}).
			Return(nil).Maybe()

		if c.Property&blelib.CharRead != 0 {
			p.Client.On("ReadCharacteristic", c).Return(c.Value, nil).Maybe()
		} else {
			p.Client.On("ReadCharacteristic", c).Return(nil, fmt.Errorf("characteristic does not support read")).Maybe()
		}

		p.Client.On("WriteCharacteristic", c, mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				p.mu.Lock()
				p.writes[key] = append(p.writes[key], append([]byte(nil), args.Get(1).([]byte)...))
				p.mu.Unlock()
			}).
			Return(nil).Maybe()
	}

	return p
}

func newAdvertisement(a Advertiser) *mocks.MockAdvertisement {
	adv := &mocks.MockAdvertisement{}
	addr := &mocks.MockAddr{}
	addr.On("String").Return(a.Address).Maybe()
	adv.On("LocalName").Return(a.Name).Maybe()
	adv.On("Addr").Return(addr).Maybe()
	adv.On("RSSI").Return(a.RSSI).Maybe()
	return adv
}

// Notify delivers data to the subscriber of uuid and reports whether there
// was one.
func (p *Peripheral) Notify(uuid string, data []byte) bool {
	p.mu.Lock()
	h := p.handlers[strings.ToLower(uuid)]
	p.mu.Unlock()
	if h == nil {
		return false
	}
	h(data)
	return true
}

// Subscribed reports whether uuid has an active subscriber.
func (p *Peripheral) Subscribed(uuid string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.handlers[strings.ToLower(uuid)]
	return ok
}

// Writes returns every value written to uuid in order.
func (p *Peripheral) Writes(uuid string) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.writes[strings.ToLower(uuid)]...)
}

// Drop simulates the radio losing the connection.
func (p *Peripheral) Drop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.dropped {
		p.dropped = true
		close(p.Client.Done)
	}
}
