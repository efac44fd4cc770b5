package blecon

import _ "embed"

// DefaultMonitorScript is run by "blecon run" when no script file is given.
//
//go:embed scripts/monitor.lua
var DefaultMonitorScript string
