package model

import "time"

// Shared defaults used by the server, CLI, and TUI binaries.
const (
	DefaultPoolSize       = 4
	DefaultStatsPattern   = "**/stats.txt"
	DefaultScanSample     = 5
	DefaultParseTimeout   = 60 * time.Second
	DefaultStartTimeout   = 30 * time.Second
	DefaultHealthInterval = 30 * time.Second
	DefaultHealthTimeout  = 2 * time.Second
	DefaultShutdownGrace  = 2 * time.Second
	DefaultUpdateInterval = 2 * time.Second
	DefaultRecentRuns     = 20
)
