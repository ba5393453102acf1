package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the process logger: human-readable console output in
// development, JSON lines everywhere else. A nil out writes to stdout.
func NewLogger(env string, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}

	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger().
			Level(zerolog.DebugLevel)
	}

	return zerolog.New(out).
		With().
		Timestamp().
		Str("service", "courier").
		Logger().
		Level(zerolog.InfoLevel)
}
