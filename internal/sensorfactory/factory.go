// Package sensorfactory turns configured sensor names into the registered
// set of physical and derived sensors.
package sensorfactory

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/srg/nervous/internal/ecg"
	"github.com/srg/nervous/internal/eda"
	"github.com/srg/nervous/internal/link"
	"github.com/srg/nervous/internal/link/goble"
	"github.com/srg/nervous/internal/sensor"
	"github.com/srg/nervous/internal/session"
)

// LinkFactory opens the radio link of every physical sensor.
// This is a variable so that it can be overridden in tests.
var LinkFactory link.Factory = goble.NewFactory()

// UnknownSensorError reports a name that matches no sensor family.
type UnknownSensorError struct {
	Name string
}

// Error implements the error interface
func (e *UnknownSensorError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("sensor %q: name must contain ECG or EDA", e.Name)
}

// Is makes every UnknownSensorError match ErrUnknownSensor.
func (e *UnknownSensorError) Is(target error) bool {
	_, ok := target.(*UnknownSensorError)
	return ok
}

var ErrUnknownSensor = &UnknownSensorError{}

// Family identifies what a sensor name resolves to.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyECG
	FamilyEDA
)

func (f Family) String() string {
	switch f {
	case FamilyECG:
		return "ECG"
	case FamilyEDA:
		return "EDA"
	default:
		return "unknown"
	}
}

// Classify resolves name by the marker it contains. ECG wins when both
// are present.
func Classify(name string) Family {
	switch {
	case strings.Contains(name, "ECG"):
		return FamilyECG
	case strings.Contains(name, "EDA"):
		return FamilyEDA
	default:
		return FamilyUnknown
	}
}

// DerivedName is the name of the virtual sensor fed by a physical sensor.
func DerivedName(name string) string {
	switch Classify(name) {
	case FamilyECG:
		return strings.Replace(name, "ECG", "HR", 1)
	case FamilyEDA:
		return strings.Replace(name, "EDA", "SCR", 1)
	default:
		return ""
	}
}

// Options carries analyzer tuning and options shared by every sensor.
type Options struct {
	ECG     ecg.Options
	EDA     eda.Options
	Sensors []sensor.Option
}

// Build creates, for each name in order, the physical sensor followed by its
// derived sensor. Duplicated names are built once. Every name is checked
// before anything is built.
func Build(names []string, sess *session.Session, opts Options, logger *logrus.Logger) (*sensor.Registry, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no sensors configured")
	}
	for _, name := range names {
		if Classify(name) == FamilyUnknown {
			return nil, &UnknownSensorError{Name: name}
		}
	}

	reg := sensor.NewRegistry()
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			logger.WithField("sensor", name).Warn("Sensor configured twice, ignoring duplicate")
			continue
		}
		seen[name] = true

		if err := add(reg, name, sess, opts, logger); err != nil {
			return nil, err
		}
	}

	logger.WithField("count", reg.Len()).Debug("Sensors built")
	return reg, nil
}

func add(reg *sensor.Registry, name string, sess *session.Session, opts Options, logger *logrus.Logger) error {
	family := Classify(name)

	var physicalID, derivedID sensor.Identity
	switch family {
	case FamilyECG:
		physicalID = sensor.ECGIdentity(name, sensor.PaletteColor(reg.NextColorIndex()))
		derivedID = sensor.HRIdentity(DerivedName(name), sensor.PaletteColor(reg.NextColorIndex()+1))
	case FamilyEDA:
		physicalID = sensor.EDAIdentity(name, sensor.PaletteColor(reg.NextColorIndex()))
		derivedID = sensor.SCRIdentity(DerivedName(name), sensor.PaletteColor(reg.NextColorIndex()+1))
	}

	physical, err := sensor.NewPhysical(physicalID, LinkFactory(name, logger), sess, logger, opts.Sensors...)
	if err != nil {
		return err
	}

	var derived sensor.Sensor
	switch family {
	case FamilyECG:
		derived, err = sensor.NewHeartRate(derivedID, physical, opts.ECG, logger, opts.Sensors...)
	case FamilyEDA:
		derived, err = sensor.NewSkinConductance(derivedID, physical, opts.EDA, logger, opts.Sensors...)
	}
	if err != nil {
		return err
	}

	if err := reg.Add(physical); err != nil {
		return err
	}
	if err := reg.Add(derived); err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"sensor":  name,
		"kind":    family.String(),
		"derived": derived.Name(),
	}).Debug("Sensor pair created")
	return nil
}
