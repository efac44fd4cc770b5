package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/srg/blecon"
	"github.com/srg/blecon/internal/devicefactory"
	"github.com/srg/blecon/internal/lua"
)

var runCmd = &cobra.Command{
	Use:   "run [script.lua]",
	Short: "Run a Lua script",
	Long: `Run a Lua script against the BLE command set.

Scripts use the global "ble" table:

  ble.connect(name)           ble.close()           ble.status()
  ble.open(service)           ble.services()        ble.characteristics()
  ble.read(spec)              ble.write(svc, char, data)
  ble.subscribe(spec)         ble.unsubscribe(spec) ble.wait(seconds)
  ble.format(name)            ble.timeout(seconds)  ble.devices()
  ble.sleep(ms)

Failing calls return nil and an error message. Script arguments passed with
--arg key=value are available in the global "arg" table.

Without a script file the bundled monitor script is run:

  blecon run --arg device=Thermo --arg count=5`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScript,
}

var runArgs map[string]string

func init() {
	runCmd.Flags().StringToStringVarP(&runArgs, "arg", "a", nil, "Script argument as key=value (repeatable)")
}

func runScript(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	script, name := blecon.DefaultMonitorScript, "monitor.lua"
	if len(args) == 1 {
		content, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read script: %w", err)
		}
		script, name = string(content), args[0]
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

	return lua.RunScript(ctx, mgr, logger, script, name, runArgs, cmd.OutOrStdout(), cmd.ErrOrStderr())
}
