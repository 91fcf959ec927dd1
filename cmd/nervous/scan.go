package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/nervous/scanner"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover advertising sensors",
	Long: `Listen for advertising sensors and print the names to put in the
configuration. Only names containing ECG or EDA are shown unless --all is
given.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
	scanAll      bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().BoolVarP(&scanAll, "all", "a", false, "Show every named device, not only sensors")
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}
	if scanDuration <= 0 {
		return fmt.Errorf("invalid duration %s: must be positive", scanDuration)
	}

	cfg, err := readConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true
	configureColor()

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, unix.SIGTERM)
	defer stop()

	opts := scanner.Options{Duration: scanDuration, All: scanAll}
	if f, ok := cmd.ErrOrStderr().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		progress := startCountdown(f, "Scanning for sensors", scanDuration)
		defer progress.Stop()
	}

	found, err := scanner.New(logger).Scan(ctx, opts)
	if err != nil {
		return err
	}

	if scanFormat == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(found)
	}
	return displaySightingsTable(cmd.OutOrStdout(), found)
}

func displaySightingsTable(out io.Writer, found []scanner.Sighting) error {
	if len(found) == 0 {
		fmt.Fprintln(out, "No sensors discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tFAMILY\tDERIVED")
	for _, s := range found {
		derived := s.Derived
		if derived == "" {
			derived = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\t%s\n", s.Name, s.Address, s.RSSI, s.Family, derived)
	}
	return w.Flush()
}
