// Package logging provides application-wide logging configuration.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var debugEnabled bool

// Format selects the log encoding.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// Init initializes the global logger writing to stderr.
func Init(debug bool, format Format) {
	InitWriter(os.Stderr, debug, format)
}

// InitWriter initializes the global logger writing to w.
func InitWriter(w io.Writer, debug bool, format Format) {
	debugEnabled = debug
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	if format == FormatJSON {
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
	})
}

// DebugEnabled reports whether debug logging is enabled.
func DebugEnabled() bool {
	return debugEnabled
}

// AgentOutput is where agent and validation output is mirrored besides the
// per-agent log file: stderr in debug mode, nowhere otherwise.
func AgentOutput() io.Writer {
	if debugEnabled {
		return os.Stderr
	}
	return nil
}
