package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/nervous/internal/events"
	"github.com/srg/nervous/internal/groutine"
	"github.com/srg/nervous/internal/metrics"
	"github.com/srg/nervous/internal/orchestrator"
	"github.com/srg/nervous/internal/sensor"
	"github.com/srg/nervous/internal/session"
	"golang.org/x/sys/unix"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the sensors and stream until interrupted",
	Long: `Connect to every configured sensor and keep the whole set streaming.

Each name containing ECG adds an ECG sensor and its heart-rate sensor, each
name containing EDA adds an EDA sensor and its skin-conductance response
sensor. Status changes are printed as they happen; Ctrl+C stops streaming
and disconnects every sensor.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var (
	runParallel    int
	runMetricsAddr string
)

func init() {
	runCmd.Flags().IntVarP(&runParallel, "parallel", "p", 0, "Maximum concurrent connection attempts (overrides the config file)")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Serve /metrics and /healthz on this address (overrides the config file)")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if runParallel > 0 {
		cfg.Connection.MaxParallel = runParallel
	}
	if runMetricsAddr != "" {
		cfg.MetricsAddr = runMetricsAddr
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true
	configureColor()

	sess := session.New(time.Now())
	collectors := metrics.New()
	bus := events.NewBus(events.DefaultBusCapacity)

	reg, err := buildSensors(cfg, sess, collectors, bus, logger)
	if err != nil {
		return err
	}
	orch := orchestrator.New(reg.All(), orchestratorOptions(cfg, collectors, bus), logger)

	logger.WithFields(logrus.Fields{
		"session": sess.ID(),
		"start":   sess.StartString(),
		"sensors": reg.Len(),
	}).Info("Session started")

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// Listen for Ctrl+C to stop
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, unix.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(cmd.ErrOrStderr(), "\nCtrl+C pressed, stopping sensors...")
			cancel()
		case <-ctx.Done():
		}
	}()

	var side groutine.Group
	side.Go(ctx, "event-printer", func(context.Context) {
		printEvents(cmd.OutOrStdout(), bus, reg)
	})
	if cfg.MetricsAddr != "" {
		router := metrics.NewRouter(collectors, func() any { return orch.Health() })
		side.Go(ctx, "metrics-server", func(ctx context.Context) {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, router, logger); err != nil {
				logger.WithError(err).Error("Metrics server failed")
			}
		})
	}

	err = orch.Start(ctx)
	cancel()
	side.Wait()

	logger.WithField("session", sess.ID()).Info("Session ended")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// printEvents writes one line per status event until the bus is closed.
func printEvents(w io.Writer, bus *events.Bus, reg *sensor.Registry) {
	for ev := range bus.C() {
		line := ev.String()
		if ev.Sensor == "" {
			line = ev.Type.String()
		}
		if s, ok := reg.Get(ev.Sensor); ok {
			line = s.Identity().Colorize(line)
		}
		if !ev.Healthy && (ev.Type == events.LeadStatus || ev.Type == events.Electrodes || ev.Type == events.Battery) {
			line += " (!)"
		}
		fmt.Fprintf(w, "%s  %s\n", stamp(ev.Time), line)
	}
}
