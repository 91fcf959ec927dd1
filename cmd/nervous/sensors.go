package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/nervous/internal/events"
	"github.com/srg/nervous/internal/sensor"
	"github.com/srg/nervous/internal/session"
)

// sensorsCmd represents the sensors command
var sensorsCmd = &cobra.Command{
	Use:   "sensors",
	Short: "List the sensors a run would acquire",
	Long: `Resolve the configured sensor names into physical and virtual sensors
and print them without touching the radio.`,
	Args: cobra.NoArgs,
	RunE: runSensors,
}

func runSensors(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true
	configureColor()

	// Links are created lazily, so building the registry never scans.
	reg, err := buildSensors(cfg, session.New(time.Now()), nil, events.NewBus(events.DefaultBusCapacity), logger)
	if err != nil {
		return err
	}
	return displaySensorsTable(cmd.OutOrStdout(), reg)
}

func displaySensorsTable(out io.Writer, reg *sensor.Registry) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tKIND\tRATE\tCOLUMNS")
	for _, s := range reg.All() {
		id := s.Identity()
		typ := "virtual"
		if s.Physical() {
			typ = "physical"
		}
		rate := "-"
		if id.SamplingRate > 0 {
			rate = fmt.Sprintf("%g Hz", id.SamplingRate)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", id.Colorize(id.Name), typ, id.Kind, rate, strings.Join(id.Header(), ", "))
	}
	return w.Flush()
}
