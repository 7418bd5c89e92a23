// Package logutil carries a zerolog logger through contexts. Code that
// finds no logger in its context writes to the global one set by Setup.
package logutil

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type (
	key byte
)

var (
	loggerKey = key(1)
)

// New returns a timestamped logger, human readable when pretty is set
func New(out io.Writer, pretty bool) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}
	if pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

// Setup replaces the global logger and level. An empty level means info.
func Setup(level string, pretty bool, out io.Writer) error {
	level = strings.ToLower(strings.TrimSpace(level))
	lvl := zerolog.InfoLevel
	if level != "" {
		var err error
		lvl, err = zerolog.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("logutil: unknown log level %q", level)
		}
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = New(out, pretty)
	return nil
}

func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

func GetOrDefault(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		return l
	}
	return log.Logger
}
