// Package logger configures the process-wide zerolog logger.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Log is the global application logger. It defaults to plain stderr so
// packages that log before Init runs (or under `go test`) still work;
// Init replaces it with the configured writer.
var Log = zerolog.New(os.Stderr).With().Timestamp().Logger()

// Init initializes the logger to stdout. Console-pretty output is used when
// pretty is true (local/dev runs); otherwise structured JSON is emitted, the
// form a container orchestrator or log shipper expects.
func Init(pretty bool) {
	zerolog.TimeFieldFormat = time.RFC3339

	logLevel := defaultLevel
	if os.Getenv("DOWNORCH_DEBUG") == "true" || os.Getenv("DOWNORCH_DEBUG") == "1" {
		logLevel = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		Log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}).
			With().Timestamp().Logger()
		return
	}

	Log = zerolog.New(os.Stdout).With().Timestamp().Logger()
}
