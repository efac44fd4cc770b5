package testutils

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/suite"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
	Hook   *test.Hook
}

// NewTestHelper creates a test helper whose logger records entries instead of printing them.
func NewTestHelper(t *testing.T) *TestHelper {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel) // keep debug entries for assertions on execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
		Hook:   hook,
	}
}

// Messages returns the messages of all recorded log entries at or above level.
func (h *TestHelper) Messages(level logrus.Level) []string {
	var out []string
	for _, e := range h.Hook.AllEntries() {
		if e.Level <= level {
			out = append(out, e.Message)
		}
	}
	return out
}

// FakePlatformSuite provides a fake BLE platform per test.
//
//	type ManagerSuite struct {
//	    testutils.FakePlatformSuite
//	}
//
//	func (s *ManagerSuite) SetupTest() {
//	    s.FakePlatformSuite.SetupTest()
//	    s.AddPeripheral(testutils.NewPeripheralBuilder("AA:01", "Thermo").
//	        WithService("180F").
//	        WithCharacteristic("2A19", "read,notify", []byte{50}))
//	}
type FakePlatformSuite struct {
	suite.Suite

	Helper      *TestHelper
	Logger      *logrus.Logger
	Platform    *FakePlatform
	TestTimeout time.Duration
}

func (s *FakePlatformSuite) SetupSuite() {
	s.TestTimeout = 2 * time.Second
}

// SetupTest creates a fresh platform and logger for each test.
func (s *FakePlatformSuite) SetupTest() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.Platform = NewFakePlatform()
}

// AddPeripheral registers a peripheral with the current platform.
func (s *FakePlatformSuite) AddPeripheral(b *PeripheralBuilder) *FakePeripheral {
	return s.Platform.AddPeripheral(b)
}

// DefaultPeripheral is a battery powered thermometer with a Nordic UART service.
func DefaultPeripheral(id, name string) *PeripheralBuilder {
	return NewPeripheralBuilder(id, name).FromJSON(`{
		"id": %q,
		"name": %q,
		"services": [
			{
				"uuid": "180F",
				"characteristics": [
					{ "uuid": "2A19", "properties": "read,notify", "value": [50] }
				]
			},
			{
				"uuid": "6e400001-b5a3-f393-e0a9-e50e24dcca9e",
				"characteristics": [
					{ "uuid": "6e400002-b5a3-f393-e0a9-e50e24dcca9e", "properties": "write,write-without-response" },
					{ "uuid": "6e400003-b5a3-f393-e0a9-e50e24dcca9e", "properties": "notify" }
				]
			}
		]
	}`, id, name)
}

// LoadScript reads a file relative to the module root.
func LoadScript(relPath string) (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}

	projectRoot := wd
	for {
		if _, err := os.Stat(filepath.Join(projectRoot, "go.mod")); err == nil {
			break
		}
		parent := filepath.Dir(projectRoot)
		if parent == projectRoot {
			return "", fmt.Errorf("could not find project root (go.mod not found)")
		}
		projectRoot = parent
	}

	data, err := os.ReadFile(filepath.Join(projectRoot, relPath))
	if err != nil {
		return "", fmt.Errorf("failed to read script %s: %w", relPath, err)
	}
	return string(data), nil
}
