package monitoring

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Logf is the package-level diagnostic logger used by library code. It
// defaults to log.Printf; Setup points it at zerolog. Tests may redirect or
// mute it with SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Options controls where Setup sends log output.
type Options struct {
	// File is the rotating log file. Empty disables file output.
	File string
	// Level is a zerolog level name; empty means info.
	Level string
	// Console additionally writes human readable output, typically
	// os.Stderr when the terminal dashboard is not running.
	Console io.Writer
}

// Setup configures the global zerolog logger and routes Logf through it.
// The terminal dashboard owns stdout, so the file sink is the normal
// destination while it runs.
func Setup(opts Options) error {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = l
	}

	var writers []io.Writer
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o750); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    1,
			MaxBackups: 2,
		})
	}
	if opts.Console != nil {
		writers = append(writers, zerolog.ConsoleWriter{Out: opts.Console})
	}
	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	zerolog.SetGlobalLevel(level)
	zlog.Logger = zerolog.New(io.MultiWriter(writers...)).
		With().Timestamp().Logger()

	SetLogger(func(format string, v ...interface{}) {
		zlog.Info().Msgf(format, v...)
	})
	return nil
}
