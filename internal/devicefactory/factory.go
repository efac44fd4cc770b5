// Package devicefactory wires the BLE platform and the connection manager from config.
package devicefactory

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/blecon/internal/device"
	"github.com/srg/blecon/internal/device/goble"
	"github.com/srg/blecon/pkg/config"
	"github.com/srg/blecon/pkg/connection"
)

// PlatformFactory creates the device.Platform used by commands.
// This is a variable so that it can be overridden in tests.
var PlatformFactory = func(cfg *config.Config, logger *logrus.Logger) device.Platform {
	return goble.NewPlatform(logger, goble.Options{ScanWindow: cfg.ScanWindow})
}

// NewManager creates a connection manager over a new platform.
func NewManager(cfg *config.Config, logger *logrus.Logger) *connection.Manager {
	return connection.New(PlatformFactory(cfg, logger), logger, connection.Options{
		Timeout:            cfg.Timeout,
		Format:             cfg.Format(),
		NotificationBuffer: cfg.NotificationBuffer,
		RestartDelay:       cfg.RestartDelay,
	})
}
