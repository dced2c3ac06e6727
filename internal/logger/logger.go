// Package logger configures the process-wide op/go-logging backend:
// one colored stderr stream, level selected by PUNCH_LOG_LEVEL,
// initialized once at startup and live for the life of the process.
package logger

import (
	"os"

	"github.com/op/go-logging"
)

var stderrFormat = logging.MustStringFormatter(
	`%{color}%{time:15:04:05.000} %{level:.6s} ▶ %{message}%{color:reset}`,
)

// Setup installs the stderr backend and returns a logger for prefix.
// Call once per process, before any other package logs.
func Setup(prefix string, defaultLevel logging.Level) *logging.Logger {
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	logging.SetFormatter(stderrFormat)
	leveled := logging.AddModuleLevel(backend)
	switch os.Getenv("PUNCH_LOG_LEVEL") {
	case "CRITICAL":
		leveled.SetLevel(logging.CRITICAL, "")
	case "ERROR":
		leveled.SetLevel(logging.ERROR, "")
	case "WARNING":
		leveled.SetLevel(logging.WARNING, "")
	case "NOTICE":
		leveled.SetLevel(logging.NOTICE, "")
	case "INFO":
		leveled.SetLevel(logging.INFO, "")
	case "DEBUG":
		leveled.SetLevel(logging.DEBUG, "")
	default:
		leveled.SetLevel(defaultLevel, "")
	}
	logging.SetBackend(leveled)
	return logging.MustGetLogger(prefix)
}
