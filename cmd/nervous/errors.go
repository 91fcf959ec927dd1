package main

import (
	"errors"
	"fmt"

	"github.com/srg/nervous/internal/link"
	"github.com/srg/nervous/internal/link/goble"
	"github.com/srg/nervous/internal/sensorfactory"
	"github.com/srg/nervous/pkg/config"
)

// Command-level errors
var (
	// ErrNoSensors indicates neither the config file nor the flags name a sensor.
	ErrNoSensors = errors.New("no sensors configured")
)

// FormatUserError turns known errors into a message with a hint. Unknown
// errors keep their own text.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var unknown *sensorfactory.UnknownSensorError
	var invalid *config.ValidationError
	var notFound *link.LinkNotFoundError

	switch {
	case errors.Is(err, ErrNoSensors):
		return "no sensors configured: pass --sensor NAME or list them under 'sensors' in the config file"
	case errors.As(err, &unknown):
		return fmt.Sprintf("unknown sensor %q: sensor names must contain ECG or EDA", unknown.Name)
	case errors.As(err, &invalid):
		return fmt.Sprintf("configuration error in %s: %s", invalid.Field, invalid.Reason)
	case errors.Is(err, goble.ErrBluetoothOff):
		return "Bluetooth is not available: turn it on and check the adapter permissions"
	case errors.As(err, &notFound):
		return fmt.Sprintf("sensor %q was not found: check that it is powered and in range", notFound.Name)
	default:
		return err.Error()
	}
}
