package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func init() {
	zerolog.DefaultContextLogger = &log.Logger
}

// Configure sets up the global logger. Output is human-readable when it's written to a terminal, JSON otherwise.
func Configure(level zerolog.Level, out *os.File) {
	zerolog.SetGlobalLevel(level)
	var writer io.Writer = out
	if isTerminal(out) {
		writer = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}
	log.Logger = zerolog.New(writer).With().Timestamp().Logger()
}

// WithRunID returns a logger that tags every line with the given run ID.
func WithRunID(logger zerolog.Logger, runID string) zerolog.Logger {
	return logger.With().Str(FieldRunID, runID).Logger()
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
