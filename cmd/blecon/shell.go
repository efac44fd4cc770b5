package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blecon/internal/devicefactory"
	"github.com/srg/blecon/internal/groutine"
	"github.com/srg/blecon/pkg/codec"
	"github.com/srg/blecon/pkg/connection"
	"golang.org/x/term"
)

var errQuit = errors.New("quit")

type shellCommand struct {
	names []string
	usage string
	help  string
	run   func(ctx context.Context, args []string) error
}

// Shell reads one command per line and drives a connection.Manager.
type Shell struct {
	mgr         *connection.Manager
	out         io.Writer
	logger      *logrus.Logger
	interactive bool
	commands    []shellCommand

	mu        sync.Mutex // serializes writes to out
	errColor  *color.Color
	noteColor *color.Color
}

// NewShell creates a shell. interactive enables the prompt and the
// background notification printer.
func NewShell(mgr *connection.Manager, out io.Writer, logger *logrus.Logger, interactive bool) *Shell {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Shell{
		mgr:         mgr,
		out:         out,
		logger:      logger,
		interactive: interactive,
		errColor:    color.New(color.FgRed),
		noteColor:   color.New(color.FgCyan),
	}
	s.commands = s.buildCommands()
	return s
}

func runShell(cmd *cobra.Command, _ []string) error {
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

	in := cmd.InOrStdin()
	interactive := false
	if f, ok := in.(*os.File); ok {
		interactive = term.IsTerminal(int(f.Fd()))
	}

	return NewShell(mgr, cmd.OutOrStdout(), logger, interactive).Run(ctx, in)
}

// Run executes commands from in until EOF, quit or ctx cancellation.
// A failing command is reported and the shell continues.
func (s *Shell) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	groutine.GoSafe(ctx, "shell-reader", s.logger, func(ctx context.Context) {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			s.logger.WithError(err).Warn("Failed to read commands")
		}
	})

	if s.interactive {
		s.printf("%s\n", `blecon ready, type "help" for commands`)
		groutine.GoSafe(ctx, "shell-notifications", s.logger, s.printNotifications)
	}

	for {
		if s.interactive {
			s.printf("%s", s.prompt())
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := s.Execute(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				if errors.Is(err, context.Canceled) && ctx.Err() != nil {
					return ctx.Err()
				}
				s.printError(err)
			}
		}
	}
}

// Execute runs a single command line. Blank lines and lines starting with '#' are ignored.
func (s *Shell) Execute(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}

	args := splitArgs(line)
	name := strings.ToLower(args[0])
	for _, c := range s.commands {
		for _, n := range c.names {
			if n == name {
				s.logger.WithFields(logrus.Fields{"command": n, "args": args[1:]}).Debug("Executing shell command")
				return c.run(ctx, args[1:])
			}
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownCommand, args[0])
}

func (s *Shell) buildCommands() []shellCommand {
	return []shellCommand{
		{[]string{"help", "?"}, "help", "show this help", s.help},
		{[]string{"list", "ls"}, "list", "list discovered device names", s.list},
		{[]string{"open"}, "open <device>", "connect to a device by name or prefix", s.open},
		{[]string{"close"}, "close", "disconnect the current device", s.close},
		{[]string{"stat", "st"}, "stat", "show the session status", s.stat},
		{[]string{"services"}, "services", "list the services of the device", s.services},
		{[]string{"use", "svc"}, "use <service>", "open a service", s.use},
		{[]string{"chars"}, "chars", "list the characteristics of the open service", s.chars},
		{[]string{"read", "r"}, "read <[service/]char>", "read a characteristic", s.read},
		{[]string{"write", "w"}, "write <[service/]char> <data>", "write data in the current format", s.write},
		{[]string{"subs", "sub"}, "subs [<[service/]char>]", "subscribe, or list subscriptions", s.subscribe},
		{[]string{"unsubs", "unsub"}, "unsubs <[service/]char>|all", "unsubscribe", s.unsubscribe},
		{[]string{"wait"}, "wait [seconds]", "wait for the next notification", s.wait},
		{[]string{"delay"}, "delay <ms>", "pause", s.delay},
		{[]string{"format", "fmt"}, "format [ascii|utf8|dec|hex|bin]", "show or set the data format", s.format},
		{[]string{"timeout"}, "timeout [seconds]", "show or set the command timeout", s.timeout},
		{[]string{"scan"}, "scan on|off", "start or stop discovery", s.scan},
		{[]string{"quit", "q", "exit"}, "quit", "leave the shell", func(context.Context, []string) error { return errQuit }},
	}
}

func (s *Shell) help(context.Context, []string) error {
	s.printf("Commands:\n")
	for _, c := range s.commands {
		names := strings.Join(c.names, "|")
		s.printf("  %-34s %s (%s)\n", c.usage, c.help, names)
	}
	s.printf("Names accept a case-insensitive prefix or a #NN index. Quote names with spaces.\n")
	return nil
}

func (s *Shell) list(context.Context, []string) error {
	names := s.mgr.ListDeviceNames()
	if len(names) == 0 {
		s.printf("No devices discovered\n")
		return nil
	}
	for i, name := range names {
		s.printf("#%02d: %s\n", i, name)
	}
	return nil
}

func (s *Shell) open(ctx context.Context, args []string) error {
	if _, err := s.mgr.Connect(ctx, strings.Join(args, " ")); err != nil {
		return err
	}
	name, _, _ := s.mgr.SessionInfo()
	s.printf("Connected to %s\n", name)
	s.printAttributes(s.mgr.Services(), false)
	return nil
}

func (s *Shell) close(ctx context.Context, _ []string) error {
	if s.mgr.Status() == connection.StatusNotConnected {
		return connection.ErrNotConnected
	}
	if err := s.mgr.Close(ctx); err != nil {
		return err
	}
	s.printf("Disconnected\n")
	return nil
}

func (s *Shell) stat(context.Context, []string) error {
	s.printf("Status: %s\n", s.mgr.Status())
	if dev, svc, ok := s.mgr.SessionInfo(); ok {
		s.printf("Device: %s\n", dev)
		if svc != "" {
			s.printf("Service: %s\n", svc)
		}
	}
	s.printf("Format: %s\n", s.mgr.DisplayFormat())
	s.printf("Timeout: %v\n", s.mgr.Timeout())
	s.printf("Subscriptions: %d\n", s.mgr.SubscriptionCount())
	return nil
}

func (s *Shell) services(context.Context, []string) error {
	if s.mgr.Status() == connection.StatusNotConnected {
		return connection.ErrNotConnected
	}
	s.printAttributes(s.mgr.Services(), false)
	return nil
}

func (s *Shell) use(ctx context.Context, args []string) error {
	status, err := s.mgr.OpenService(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	_, svc, _ := s.mgr.SessionInfo()
	if status == connection.ServiceEmpty {
		s.printf("Service %s has no characteristics\n", svc)
		return nil
	}
	s.printf("Using %s\n", svc)
	s.printAttributes(s.mgr.Characteristics(), true)
	return nil
}

func (s *Shell) chars(context.Context, []string) error {
	if _, svc, _ := s.mgr.SessionInfo(); svc == "" {
		return connection.ErrNoServiceSelected
	}
	s.printAttributes(s.mgr.Characteristics(), true)
	return nil
}

func (s *Shell) read(ctx context.Context, args []string) error {
	value, err := s.mgr.ReadCharacteristic(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	s.printf("%s\n", value)
	return nil
}

func (s *Shell) write(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: write <[service/]char> <data>", ErrUsage)
	}
	service, char := "", args[0]
	if i := strings.Index(char, "/"); i >= 0 {
		service, char = char[:i], char[i+1:]
	}

	result, err := s.mgr.WriteCharacteristic(ctx, service, char, strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	if result != connection.WriteSuccess {
		return fmt.Errorf("write %s", result)
	}
	s.printf("Written\n")
	return nil
}

func (s *Shell) subscribe(ctx context.Context, args []string) error {
	if len(args) == 0 {
		subs := s.mgr.Subscriptions()
		if len(subs) == 0 {
			s.printf("No subscriptions\n")
		}
		for _, name := range subs {
			s.printf("%s\n", name)
		}
		return nil
	}

	spec := strings.Join(args, " ")
	if err := s.mgr.Subscribe(ctx, spec); err != nil {
		return err
	}
	s.printf("Subscribed to %s\n", spec)
	return nil
}

func (s *Shell) unsubscribe(ctx context.Context, args []string) error {
	spec := strings.Join(args, " ")
	if err := s.mgr.Unsubscribe(ctx, spec); err != nil {
		return err
	}
	s.printf("Unsubscribed from %s\n", spec)
	return nil
}

func (s *Shell) wait(ctx context.Context, args []string) error {
	timeout := s.mgr.Timeout()
	if len(args) > 0 {
		secs, err := strconv.ParseFloat(args[0], 64)
		if err != nil || secs <= 0 {
			return fmt.Errorf("%w: wait [seconds]", ErrUsage)
		}
		timeout = time.Duration(secs * float64(time.Second))
	}

	n, err := s.mgr.WaitNotification(ctx, timeout)
	if err != nil {
		return err
	}
	s.printf("%s: %s\n", n.Characteristic, n.Text)
	return nil
}

func (s *Shell) delay(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: delay <ms>", ErrUsage)
	}
	ms, err := strconv.Atoi(args[0])
	if err != nil || ms < 0 {
		return fmt.Errorf("%w: delay <ms>", ErrUsage)
	}
	return s.mgr.Delay(ctx, time.Duration(ms)*time.Millisecond)
}

func (s *Shell) format(_ context.Context, args []string) error {
	if len(args) > 0 {
		f, err := codec.ParseDataFormat(args[0])
		if err != nil {
			return err
		}
		s.mgr.SetDisplayFormat(f)
	}
	s.printf("Format: %s\n", s.mgr.DisplayFormat())
	return nil
}

func (s *Shell) timeout(_ context.Context, args []string) error {
	if len(args) > 0 {
		secs, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("%w: timeout [seconds]", ErrUsage)
		}
		s.mgr.SetTimeout(secs)
	}
	s.printf("Timeout: %v\n", s.mgr.Timeout())
	return nil
}

func (s *Shell) scan(_ context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: scan on|off", ErrUsage)
	}
	switch strings.ToLower(args[0]) {
	case "on":
		if err := s.mgr.StartScanning(); err != nil {
			return err
		}
		s.printf("Scanning on\n")
	case "off":
		if err := s.mgr.StopScanning(); err != nil {
			return err
		}
		s.printf("Scanning off\n")
	default:
		return fmt.Errorf("%w: scan on|off", ErrUsage)
	}
	return nil
}

func (s *Shell) printAttributes(attrs []connection.Attribute, withProps bool) {
	for _, a := range attrs {
		if withProps && a.Properties != 0 {
			s.printf("%s [%s]\n", a.DisplayName, a.Properties)
		} else {
			s.printf("%s\n", a.DisplayName)
		}
	}
}

func (s *Shell) printNotifications(ctx context.Context) {
	feed := s.mgr.Notifications()
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-feed:
			if !ok {
				return
			}
			s.mu.Lock()
			_, _ = s.noteColor.Fprintf(s.out, "\n[%s] %s\n", n.Characteristic, n.Text)
			s.mu.Unlock()
		}
	}
}

func (s *Shell) prompt() string {
	dev, svc, ok := s.mgr.SessionInfo()
	switch {
	case !ok:
		return "blecon> "
	case svc == "":
		return fmt.Sprintf("blecon %s> ", dev)
	default:
		return fmt.Sprintf("blecon %s/%s> ", dev, svc)
	}
}

func (s *Shell) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = fmt.Fprintf(s.out, format, args...)
}

func (s *Shell) printError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.errColor.Fprintf(s.out, "ERROR: %s\n", FormatUserError(err))
}

// splitArgs splits on whitespace. Double quotes group words; backslashes are
// kept as typed so the codec can unescape them.
func splitArgs(line string) []string {
	var (
		args    []string
		current strings.Builder
		quoted  bool
		inWord  bool
	)
	for _, r := range line {
		switch {
		case r == '"':
			quoted = !quoted
			inWord = true
		case !quoted && (r == ' ' || r == '\t'):
			if inWord {
				args = append(args, current.String())
				current.Reset()
				inWord = false
			}
		default:
			current.WriteRune(r)
			inWord = true
		}
	}
	if inWord {
		args = append(args, current.String())
	}
	return args
}
