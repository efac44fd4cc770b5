package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecon/internal/device"
	"github.com/srg/blecon/internal/devicefactory"
	"github.com/srg/blecon/internal/testutils"
	"github.com/srg/blecon/pkg/codec"
	"github.com/srg/blecon/pkg/config"
	"github.com/srg/blecon/pkg/connection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

const (
	TestDeviceAddress1 = "00:00:00:00:00:01"
	TestDeviceAddress2 = "00:00:00:00:00:02"

	uartRX = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
)

type ShellTestSuite struct {
	testutils.FakePlatformSuite

	ctx    context.Context
	mgr    *connection.Manager
	out    *bytes.Buffer
	shell  *Shell
	thermo *testutils.FakePeripheral
}

func (suite *ShellTestSuite) SetupSuite() {
	suite.FakePlatformSuite.SetupSuite()
	color.NoColor = true
}

func (suite *ShellTestSuite) SetupTest() {
	suite.FakePlatformSuite.SetupTest()
	suite.ctx = context.Background()
	suite.thermo = suite.AddPeripheral(testutils.DefaultPeripheral(TestDeviceAddress1, "Thermo"))
	suite.AddPeripheral(testutils.DefaultPeripheral(TestDeviceAddress2, "Alpha"))

	suite.mgr = connection.New(suite.Platform, suite.Logger, connection.Options{
		Timeout: time.Second,
		Format:  codec.Hex,
	})
	suite.Require().NoError(suite.mgr.StartScanning())
	suite.Require().Eventually(func() bool {
		return len(suite.mgr.ListDeviceNames()) == 2
	}, suite.TestTimeout, 10*time.Millisecond, "both devices MUST be discovered")

	suite.out = &bytes.Buffer{}
	suite.shell = NewShell(suite.mgr, suite.out, suite.Logger, false)
}

func (suite *ShellTestSuite) TearDownTest() {
	suite.NoError(suite.mgr.Shutdown(suite.ctx))
}

func (suite *ShellTestSuite) runLines(lines ...string) {
	err := suite.shell.Run(suite.ctx, strings.NewReader(strings.Join(lines, "\n")))
	suite.Require().NoError(err, "the shell MUST end cleanly")
}

func (suite *ShellTestSuite) TestSession() {
	// GOAL: A piped command script drives a whole session
	//
	// TEST SCENARIO: list, open, use, read, write, format, read, stat, close, unknown command, quit

	suite.runLines(
		"# session script",
		"list",
		"open therm",
		`use "Batt"`,
		`read "Battery Level"`,
		`write "Nordic UART Service/UART RX" 01 0a`,
		"fmt dec",
		"r Battery/Battery Level",
		"st",
		"close",
		"bogus",
		"quit",
		"list",
	)

	testutils.NewTextAsserter(suite.T()).Assert(suite.out.String(), `
		#00: Alpha
		#01: Thermo
		Connected to Thermo
		#00: Battery Service
		#01: Nordic UART Service
		Using Battery Service
		#00: Battery Level [Read, Notify]
		32
		Written
		Format: Dec
		50
		Status: Connected
		Device: Thermo
		Service: Battery Service
		Format: Dec
		Timeout: 1s
		Subscriptions: 0
		Disconnected
		ERROR: unknown command: bogus (type "help" for the list of commands)
	`)
	suite.Equal([][]byte{{0x01, 0x0a}}, suite.thermo.Characteristic(uartRX).Writes(), "write MUST reach the device")
}

func (suite *ShellTestSuite) TestSubscribeAndWait() {
	suite.Require().NoError(suite.shell.Execute(suite.ctx, "open Thermo"))
	suite.Require().NoError(suite.shell.Execute(suite.ctx, "sub Battery/Battery Level"))
	suite.Require().NoError(suite.shell.Execute(suite.ctx, "subs"))

	done := make(chan error, 1)
	go func() {
		done <- suite.shell.Execute(suite.ctx, "wait 2")
	}()

	var err error
	suite.Eventually(func() bool {
		suite.thermo.Characteristic("2A19").Push([]byte{0x33})
		select {
		case err = <-done:
			return true
		default:
			return false
		}
	}, suite.TestTimeout, 20*time.Millisecond, "wait MUST return after a notification")
	suite.Require().NoError(err)

	suite.Require().NoError(suite.shell.Execute(suite.ctx, "unsub all"))

	out := suite.out.String()
	suite.Contains(out, "Subscribed to Battery/Battery Level\n")
	suite.Contains(out, "Battery Level\n", "subs MUST list the subscription")
	suite.Contains(out, "Battery Level: 33\n")
	suite.Contains(out, "Unsubscribed from all\n")
	suite.Equal(0, suite.mgr.SubscriptionCount())
}

func (suite *ShellTestSuite) TestErrorsKeepTheShellRunning() {
	suite.runLines(
		"read Battery Level",
		"open Thermo",
		"read Battery Level",
		"write Battery",
		"fmt octal",
		"delay soon",
		"scan sideways",
		"stat",
	)

	out := suite.out.String()
	suite.Contains(out, `ERROR: not_connected (connect with "open <device>")`)
	suite.Contains(out, `ERROR: no service selected (open a service with "use <service>" or address it as "service/characteristic")`)
	suite.Contains(out, "ERROR: usage: write <[service/]char> <data>")
	suite.Contains(out, `ERROR: unknown data format "octal"`)
	suite.Contains(out, "ERROR: usage: delay <ms>")
	suite.Contains(out, "ERROR: usage: scan on|off")
	suite.Contains(out, "Status: Connected", "commands after a failure MUST still run")
}

func (suite *ShellTestSuite) TestTimeoutAndScan() {
	suite.runLines("timeout 5", "timeout 99", "scan off", "delay 100", "scan on")

	testutils.NewTextAsserter(suite.T()).Assert(suite.out.String(), `
		Timeout: 5s
		Timeout: 5s
		Scanning off
		Scanning on
	`)
	suite.Equal(2, suite.Platform.FakeWatcher().Starts(), "scan on MUST restart discovery")
}

func (suite *ShellTestSuite) TestCancelEndsRun() {
	ctx, cancel := context.WithCancel(suite.ctx)
	done := make(chan error, 1)
	go func() {
		done <- suite.shell.Run(ctx, strings.NewReader("delay 60000\nlist\n"))
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		suite.ErrorIs(err, context.Canceled, "cancellation MUST end the shell")
	case <-time.After(suite.TestTimeout):
		suite.Fail("shell MUST stop on cancellation")
	}
	suite.NotContains(suite.out.String(), "Thermo", "no command MUST run after cancellation")
}

func (suite *ShellTestSuite) TestHelp() {
	suite.Require().NoError(suite.shell.Execute(suite.ctx, "help"))

	out := suite.out.String()
	for _, c := range suite.shell.commands {
		suite.Contains(out, c.usage, "help MUST describe every command")
	}
}

func TestShellTestSuite(t *testing.T) {
	suite.Run(t, new(ShellTestSuite))
}

type RootCommandTestSuite struct {
	testutils.FakePlatformSuite
}

func (suite *RootCommandTestSuite) SetupSuite() {
	suite.FakePlatformSuite.SetupSuite()
	color.NoColor = true
}

func (suite *RootCommandTestSuite) SetupTest() {
	suite.FakePlatformSuite.SetupTest()
	suite.AddPeripheral(testutils.DefaultPeripheral(TestDeviceAddress1, "Thermo"))
	suite.AddPeripheral(testutils.DefaultPeripheral(TestDeviceAddress2, "Alpha"))

	orig := devicefactory.PlatformFactory
	suite.T().Cleanup(func() { devicefactory.PlatformFactory = orig })
	devicefactory.PlatformFactory = func(*config.Config, *logrus.Logger) device.Platform {
		return suite.Platform
	}
}

// ExecuteCommand runs the root command with args and stdin, returns output and error.
func (suite *RootCommandTestSuite) ExecuteCommand(stdin string, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(new(bytes.Buffer))
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func (suite *RootCommandTestSuite) TestShellFromStdin() {
	out, err := suite.ExecuteCommand("delay 200\nls\nopen Alpha\nst\n")

	suite.Require().NoError(err)
	testutils.NewTextAsserter(suite.T()).Assert(out, `
		#00: Alpha
		#01: Thermo
		Connected to Alpha
		#00: Battery Service
		#01: Nordic UART Service
		Status: Connected
		Device: Alpha
		Format: Hex
		Timeout: 3s
		Subscriptions: 0
	`)
	suite.Equal(1, suite.Platform.FakeWatcher().Starts())
}

func (suite *RootCommandTestSuite) TestScanJSON() {
	out, err := suite.ExecuteCommand("", "scan", "--duration", "200ms", "--format", "json")
	suite.Require().NoError(err)

	ja := testutils.NewJSONAsserter(suite.T(), testutils.WithIgnoreExtraKeys(false))
	ja.Assert(out, `[
		{"name": "Alpha", "address": "`+TestDeviceAddress2+`", "connectable": true},
		{"name": "Thermo", "address": "<<PRESENCE>>", "connectable": true}
	]`)
}

func (suite *RootCommandTestSuite) TestScanRejectsBadFormat() {
	_, err := suite.ExecuteCommand("", "scan", "--format", "xml", "--duration", "1s")
	suite.ErrorContains(err, "invalid format 'xml'")
	suite.Require().NoError(scanCmd.Flags().Set("format", "table"))
}

func (suite *RootCommandTestSuite) TestRunScript() {
	out, err := suite.ExecuteCommand("", "run", "--arg", "device=Thermo", "--arg", "count=0")

	suite.Require().NoError(err)
	suite.Contains(out, "Battery/Battery Level = 32\n", "the bundled script MUST read the characteristic")
}

func (suite *RootCommandTestSuite) TestUUID() {
	out, err := suite.ExecuteCommand("", "uuid", "0x180F", "00002a19-0000-1000-8000-00805f9b34fb", "1234")

	suite.Require().NoError(err)
	testutils.NewTextAsserter(suite.T()).Assert(out, `
		180f	service	Battery Service
		2a19	characteristic	Battery Level
		1234	unknown
	`)
}

func (suite *RootCommandTestSuite) TestInvalidLogLevel() {
	defer func() {
		suite.Require().NoError(rootCmd.PersistentFlags().Set("log-level", ""))
	}()

	_, err := suite.ExecuteCommand("", "uuid", "--log-level", "loud", "180f")
	suite.NoError(err, "uuid does not configure logging")

	_, err = suite.ExecuteCommand("", "--log-level", "loud")
	suite.ErrorContains(err, "invalid log level: loud")
}

func TestRootCommandTestSuite(t *testing.T) {
	suite.Run(t, new(RootCommandTestSuite))
}

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{"read Battery Level", []string{"read", "Battery", "Level"}},
		{`use "Nordic UART"`, []string{"use", "Nordic UART"}},
		{`w "UART RX" "hi\r\n"`, []string{"w", "UART RX", `hi\r\n`}},
		{"  ls\t ", []string{"ls"}},
		{`write x ""`, []string{"write", "x", ""}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, splitArgs(tt.line))
		})
	}
}

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{errors.New("plain"), "plain"},
		{fmt.Errorf("scan: %w", device.ErrBluetoothOff), "scan: bluetooth is turned off (turn Bluetooth on and grant this terminal Bluetooth access)"},
		{fmt.Errorf("%w: zz", codec.ErrMalformed), `malformed data: zz (check the data against the current format ("format"))`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatUserError(tt.err))
	}
}
