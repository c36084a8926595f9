package monitor

import (
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	maxLogSizeMB = 10
	maxBackups   = 5
)

// SetupCLILogging configures the global logger for interactive/one-shot
// runs: CustomHandler over stderr, no rotation.
func SetupCLILogging(levelStr string) {
	SetupSlog(levelStr, os.Stderr)
}

// SetupDaemonLogging configures the global logger for `serve` mode:
// CustomHandler over a lumberjack-rotated file, 10 MiB per file, 5
// rotations kept.
func SetupDaemonLogging(levelStr, logPath string) *lumberjack.Logger {
	w := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    maxLogSizeMB,
		MaxBackups: maxBackups,
	}
	SetupSlog(levelStr, w)
	return w
}
