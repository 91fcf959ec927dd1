//go:build test

package testutils

import (
	"time"

	blelib "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/nervous/internal/link/goble"
	"github.com/stretchr/testify/suite"
)

// MockBLEPeripheralSuite provides a reusable test suite with a mocked radio.
// Every test gets a fresh peripheral advertising PeripheralName with the
// sensor GATT profile, installed as the go-ble device factory.
//
// Custom peripheral usage:
//
//	type LinkSuite struct {
//	    testutils.MockBLEPeripheralSuite
//	}
//
//	func (s *LinkSuite) SetupTest() {
//	    s.WithPeripheral().WithDialError(errors.New("boom"))
//	    s.MockBLEPeripheralSuite.SetupTest() // Call parent last to apply configuration
//	}
type MockBLEPeripheralSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	OriginalDeviceFactory func() (blelib.Device, error)
	TestTimeout           time.Duration

	PeripheralName    string
	PeripheralBuilder *PeripheralBuilder
	Peripheral        *Peripheral
}

// SetupSuite saves the device factory and sets the suite defaults.
// Called once before all tests in the suite.
func (s *MockBLEPeripheralSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 5 * time.Second
	if s.PeripheralName == "" {
		s.PeripheralName = "ECG_TEST"
	}

	s.OriginalDeviceFactory = goble.DeviceFactory
	s.T().Cleanup(func() {
		if s.OriginalDeviceFactory != nil {
			goble.DeviceFactory = s.OriginalDeviceFactory
		}
		goble.ResetHostDevice()
	})
}

// SetupTest builds the peripheral and installs it as the host radio.
func (s *MockBLEPeripheralSuite) SetupTest() {
	if s.PeripheralBuilder == nil {
		s.PeripheralBuilder = NewPeripheralBuilder()
	}
	if s.PeripheralBuilder.name == "" {
		s.PeripheralBuilder.WithName(s.PeripheralName)
	}

	s.Peripheral = s.PeripheralBuilder.Build()
	device := s.Peripheral.Device

	goble.ResetHostDevice()
	goble.DeviceFactory = func() (blelib.Device, error) {
		return device, nil
	}
}

// TearDownTest restores the device factory and forgets the peripheral.
func (s *MockBLEPeripheralSuite) TearDownTest() {
	if s.OriginalDeviceFactory != nil {
		goble.DeviceFactory = s.OriginalDeviceFactory
	}
	goble.ResetHostDevice()

	s.PeripheralBuilder = nil
	s.Peripheral = nil
}

// WithPeripheral returns the peripheral builder for fluent configuration.
// Use it in SetupTest before calling the parent SetupTest.
func (s *MockBLEPeripheralSuite) WithPeripheral() *PeripheralBuilder {
	if s.PeripheralBuilder == nil {
		s.PeripheralBuilder = NewPeripheralBuilder()
	}
	return s.PeripheralBuilder
}
