package config

import (
	"log"
	"os"
)

// NewLogger returns a stdlib logger prefixed with the given subsystem name,
// matching the bracketed-prefix convention used throughout this codebase
// (e.g. "[relay] ...", "[supervisor] ..."). LOG_LEVEL is informational only
// here — the core never branches on it; it exists for operators piping
// output through a level-aware collector.
func NewLogger(subsystem string) *log.Logger {
	return log.New(os.Stderr, "["+subsystem+"] ", log.LstdFlags)
}
