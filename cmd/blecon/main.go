package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd starts the interactive shell when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "blecon",
	Short: "Command-driven Bluetooth Low Energy client",
	Long: `Bluetooth Low Energy (BLE) central client driven by short commands:

- Discover nearby peripherals and connect to them by name
- Open services and address characteristics by name, prefix or #index
- Read and write values as ASCII, UTF-8, decimal, hex or binary
- Subscribe to notifications and wait for values
- Run Lua scripts against the same command set (see "run")

Without a subcommand blecon starts an interactive shell. Commands can also be
piped on stdin, one per line.`,
	Version:      fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
	Args:         cobra.NoArgs,
	RunE:         runShell,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(uuidCmd)

	rootCmd.PersistentFlags().String("config", "", "YAML configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
