package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/nervous/internal/ecg"
	"github.com/srg/nervous/internal/eda"
	"github.com/srg/nervous/internal/events"
	"github.com/srg/nervous/internal/link"
	"github.com/srg/nervous/internal/link/goble"
	"github.com/srg/nervous/internal/metrics"
	"github.com/srg/nervous/internal/orchestrator"
	"github.com/srg/nervous/internal/sensor"
	"github.com/srg/nervous/internal/sensorfactory"
	"github.com/srg/nervous/internal/session"
	"github.com/srg/nervous/pkg/config"
)

// readConfig reads --config when given and applies the persistent flags on
// top of it.
func readConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if names, _ := cmd.Flags().GetStringSlice("sensor"); len(names) > 0 {
		cfg.Sensors = names
	}
	return cfg, nil
}

// loadConfig is readConfig for commands that need at least one sensor.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := readConfig(cmd)
	if err != nil {
		return nil, err
	}
	if len(cfg.Sensors) == 0 {
		return nil, ErrNoSensors
	}
	return cfg, nil
}

func factoryOptions(cfg *config.Config, collectors *metrics.Collectors, bus *events.Bus) sensorfactory.Options {
	return sensorfactory.Options{
		ECG: ecg.Options{
			WindowDuration:  cfg.ECG.Window,
			HistoryDuration: cfg.ECG.History,
			Polarity:        cfg.ECG.Polarity,
		},
		EDA: eda.Options{
			WindowDuration: cfg.EDA.Window,
			MinAmplitude:   cfg.EDA.MinAmplitude,
		},
		Sensors: []sensor.Option{
			sensor.WithMetrics(collectors),
			sensor.WithEvents(bus),
		},
	}
}

func orchestratorOptions(cfg *config.Config, collectors *metrics.Collectors, bus *events.Bus) orchestrator.Options {
	c := cfg.Connection
	return orchestrator.Options{
		MaxParallel:      c.MaxParallel,
		RetryDelay:       c.RetryDelay,
		PollInterval:     c.PollInterval,
		FanoutErrorDelay: c.FanoutErrorDelay,
		BatteryInterval:  c.BatteryInterval,
		Metrics:          collectors,
		Events:           bus,
	}
}

// newLinkFactory opens the radio links (can be overridden in tests)
var newLinkFactory = func(cfg *config.Config) link.Factory {
	return goble.NewFactory(goble.WithScanTimeout(cfg.Connection.ScanTimeout))
}

// buildSensors resolves the configured names into the sensor registry.
func buildSensors(cfg *config.Config, sess *session.Session, collectors *metrics.Collectors, bus *events.Bus, logger *logrus.Logger) (*sensor.Registry, error) {
	sensorfactory.LinkFactory = newLinkFactory(cfg)
	return sensorfactory.Build(cfg.Sensors, sess, factoryOptions(cfg, collectors, bus), logger)
}
