package devicefactory

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/srg/blecon/internal/device"
	"github.com/srg/blecon/internal/testutils"
	"github.com/srg/blecon/pkg/codec"
	"github.com/srg/blecon/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager_AppliesConfig(t *testing.T) {
	platform := testutils.NewFakePlatform()
	orig := PlatformFactory
	t.Cleanup(func() { PlatformFactory = orig })
	PlatformFactory = func(*config.Config, *logrus.Logger) device.Platform {
		return platform
	}

	cfg := config.DefaultConfig()
	cfg.Timeout = 7 * time.Second
	cfg.DataFormat = "bin"

	logger, _ := test.NewNullLogger()
	m := NewManager(cfg, logger)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	assert.Equal(t, 7*time.Second, m.Timeout(), "timeout MUST come from config")
	assert.Equal(t, codec.Binary, m.DisplayFormat(), "format MUST come from config")

	require.NoError(t, m.StartScanning())
	assert.Equal(t, 1, platform.FakeWatcher().Starts(), "manager MUST scan on the configured platform")
}
