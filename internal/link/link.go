// Package link abstracts the wireless connection to a single named sensor.
package link

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// GATT characteristics exposed by the sensors.
const (
	BatteryLevelUUID = "00002a19-0000-1000-8000-00805f9b34fb"
	DataUUID         = "6e400003-b5a3-f393-e0a9-e50e24dcca9e"
	TimeSyncUUID     = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
)

// NotificationHandler receives the raw value of one notification. It is called
// from the radio stack and must not block.
type NotificationHandler func(data []byte)

// Link is a connection to one peripheral found by its advertised name.
// Implementations are safe for concurrent use.
type Link interface {
	Name() string

	// Connect discovers the peripheral, dials it and discovers its profile.
	// It returns *LinkNotFoundError when the peripheral does not advertise
	// in time and *LinkFailureError for any other failure.
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool

	// Disconnected is closed when the current connection ends, whatever the
	// cause. When not connected it returns a closed channel.
	Disconnected() <-chan struct{}

	Subscribe(uuid string, h NotificationHandler) error
	Unsubscribe(uuid string) error
	Read(uuid string) ([]byte, error)
	Write(uuid string, data []byte, noResponse bool) error
}

// Factory opens an unconnected Link for the named peripheral.
type Factory func(name string, logger *logrus.Logger) Link

// LinkNotFoundError reports a peripheral that did not advertise before the
// discovery timeout.
type LinkNotFoundError struct {
	Name    string
	Timeout time.Duration
}

// Error implements the error interface
func (e *LinkNotFoundError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Timeout > 0 {
		return fmt.Sprintf("sensor %q not found within %s", e.Name, e.Timeout)
	}
	return fmt.Sprintf("sensor %q not found", e.Name)
}

// Is makes every LinkNotFoundError match ErrLinkNotFound.
func (e *LinkNotFoundError) Is(target error) bool {
	_, ok := target.(*LinkNotFoundError)
	return ok
}

// LinkFailureError reports a failed link operation. Op is one of "init",
// "scan", "dial", "discover", "subscribe", "unsubscribe", "read", "write",
// "disconnect".
type LinkFailureError struct {
	Name string
	Op   string
	Err  error
}

// Error implements the error interface
func (e *LinkFailureError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err == nil {
		return fmt.Sprintf("sensor %q: %s failed", e.Name, e.Op)
	}
	return fmt.Sprintf("sensor %q: %s failed: %v", e.Name, e.Op, e.Err)
}

// Is makes every LinkFailureError match ErrLinkFailure.
func (e *LinkFailureError) Is(target error) bool {
	_, ok := target.(*LinkFailureError)
	return ok
}

func (e *LinkFailureError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

var (
	ErrLinkNotFound = &LinkNotFoundError{}
	ErrLinkFailure  = &LinkFailureError{}
)
