// Package scanner discovers advertising body sensors so their names can be
// put in the configuration.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cornelk/hashmap"
	blelib "github.com/go-ble/ble"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/nervous/internal/link/goble"
	"github.com/srg/nervous/internal/sensorfactory"
)

// Sighting is the latest advertisement of one device.
type Sighting struct {
	Name     string    `json:"name"`
	Address  string    `json:"address"`
	RSSI     int       `json:"rssi"`
	Family   string    `json:"family"`
	Derived  string    `json:"derived,omitempty"`
	LastSeen time.Time `json:"lastSeen"`
}

// Options configures scanning behavior
type Options struct {
	Duration time.Duration `default:"10s"`
	// Names, when set, keeps only these advertised names.
	Names []string
	// All keeps devices whose name matches no sensor family.
	All bool
}

// Scanner handles sensor discovery
type Scanner struct {
	logger    *logrus.Logger
	sightings *hashmap.Map[string, Sighting]
}

func New(logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{logger: logger}
}

// Scan listens for opts.Duration, or until ctx is done, and returns the
// matching devices strongest signal first. Cancellation is not an error.
func (s *Scanner) Scan(ctx context.Context, opts Options) ([]Sighting, error) {
	defaults.SetDefaults(&opts)
	s.sightings = hashmap.New[string, Sighting]()

	dev, err := goble.HostDevice()
	if err != nil {
		return nil, fmt.Errorf("failed to open BLE adapter: %w", goble.NormalizeError(err))
	}

	scanCtx, cancel := context.WithTimeout(ctx, opts.Duration)
	defer cancel()

	s.logger.WithField("duration", opts.Duration).Info("Scanning for sensors...")
	err = dev.Scan(scanCtx, true, func(adv blelib.Advertisement) {
		s.handleAdvertisement(adv, opts)
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", goble.NormalizeError(err))
	}

	found := make([]Sighting, 0, s.sightings.Len())
	s.sightings.Range(func(_ string, v Sighting) bool {
		found = append(found, v)
		return true
	})
	sort.Slice(found, func(i, j int) bool {
		if found[i].RSSI != found[j].RSSI {
			return found[i].RSSI > found[j].RSSI
		}
		return found[i].Name < found[j].Name
	})

	s.logger.WithField("sensor_count", len(found)).Info("Scan completed")
	return found, nil
}

// handleAdvertisement records adv when it passes the filters. Repeated
// advertisements refresh the signal strength.
func (s *Scanner) handleAdvertisement(adv blelib.Advertisement, opts Options) {
	name := adv.LocalName()
	if !include(name, opts) {
		return
	}

	family := sensorfactory.Classify(name)
	sighting := Sighting{
		Name:     name,
		Address:  adv.Addr().String(),
		RSSI:     adv.RSSI(),
		Family:   family.String(),
		LastSeen: time.Now(),
	}
	if family != sensorfactory.FamilyUnknown {
		sighting.Derived = sensorfactory.DerivedName(name)
	}

	if _, seen := s.sightings.Get(sighting.Address); !seen {
		s.logger.WithFields(logrus.Fields{
			"sensor":  name,
			"address": sighting.Address,
			"rssi":    sighting.RSSI,
		}).Info("Discovered sensor")
	}
	s.sightings.Set(sighting.Address, sighting)
}

func include(name string, opts Options) bool {
	if name == "" {
		return false
	}
	if len(opts.Names) > 0 {
		for _, n := range opts.Names {
			if n == name {
				return true
			}
		}
		return false
	}
	return opts.All || sensorfactory.Classify(name) != sensorfactory.FamilyUnknown
}
