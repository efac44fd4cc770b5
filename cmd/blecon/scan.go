package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blecon/internal/device"
	"github.com/srg/blecon/internal/devicefactory"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE devices",
	Long: `Scan for Bluetooth Low Energy devices and print what was discovered.

The names listed here are the ones "open" accepts in the shell.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 5*time.Second, "Scan duration")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
}

type scanEntry struct {
	Name        string `json:"name"`
	Address     string `json:"address"`
	Connectable bool   `json:"connectable"`
}

func runScan(cmd *cobra.Command, _ []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}
	if scanDuration <= 0 {
		return fmt.Errorf("invalid duration %v: must be positive", scanDuration)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr := devicefactory.NewManager(cfg, logger)
	if err := mgr.StartScanning(); err != nil {
		return fmt.Errorf("failed to start scanning: %w", err)
	}
	defer func() {
		if err := mgr.Shutdown(context.Background()); err != nil {
			logger.WithError(err).Warn("Shutdown failed")
		}
	}()

	// Ctrl+C ends the scan early and still prints the results.
	if err := mgr.Delay(ctx, scanDuration); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	devices := mgr.DiscoveredDevices()
	if scanFormat == "json" {
		return displayDevicesJSON(cmd.OutOrStdout(), devices)
	}
	return displayDevicesTable(cmd.OutOrStdout(), devices)
}

func toScanEntries(devices []device.DiscoveredDevice) []scanEntry {
	entries := make([]scanEntry, 0, len(devices))
	for _, d := range devices {
		entries = append(entries, scanEntry{Name: d.Name(), Address: d.ID(), Connectable: d.IsConnectable()})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
	return entries
}

func displayDevicesTable(out io.Writer, devices []device.DiscoveredDevice) error {
	if len(devices) == 0 {
		_, err := fmt.Fprintln(out, "No devices discovered")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tCONNECTABLE")
	for _, e := range toScanEntries(devices) {
		name := e.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Fprintf(w, "%s\t%s\t%t\n", name, e.Address, e.Connectable)
	}
	return w.Flush()
}

func displayDevicesJSON(out io.Writer, devices []device.DiscoveredDevice) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(toScanEntries(devices))
}
