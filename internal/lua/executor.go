package lua

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecon/internal/groutine"
)

// RunScript executes script against cmd, streaming print output to stdout and
// script errors to stderr while the script runs. args become the global "arg"
// table. Nil writers discard the corresponding output.
func RunScript(
	ctx context.Context,
	cmd Commander,
	logger *logrus.Logger,
	script, name string,
	args map[string]string,
	stdout, stderr io.Writer,
) error {
	if logger == nil {
		logger = logrus.New()
	}

	engine := NewEngine(logger)
	api := NewBLEAPI(engine, cmd, logger)
	engine.SetArgs(args)

	logger.WithFields(logrus.Fields{"script": name, "script_size": len(script)}).Debug("Starting Lua script execution")

	drained := make(chan struct{})
	groutine.GoSafe(ctx, "lua-output", logger, func(context.Context) {
		defer close(drained)
		for record := range engine.Output() {
			writeRecord(logger, record, stdout, stderr)
		}
	})

	scriptErr := api.Execute(ctx, script, name)

	// Close ends the output feed; the drain returns once it is empty.
	engine.Close()
	<-drained

	logger.WithField("script", name).Debug("Lua script execution completed")

	if scriptErr != nil {
		return fmt.Errorf("failed to execute script: %w", scriptErr)
	}
	return nil
}

func writeRecord(logger *logrus.Logger, record OutputRecord, stdout, stderr io.Writer) {
	var err error
	switch {
	case record.Source == SourceStderr && stderr != nil:
		_, err = fmt.Fprintln(stderr, record.Content)
	case record.Source == SourceStdout && stdout != nil:
		_, err = fmt.Fprint(stdout, record.Content)
	}
	if err != nil {
		logger.WithError(err).WithField("source", record.Source).Debug("Failed to write script output")
	}
}
