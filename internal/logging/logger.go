// Package logging provides the key/value logger used across sitetracker,
// backed by zerolog with lumberjack file rotation.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is a leveled logger taking alternating key/value pairs.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	With(kv ...any) Logger
}

// Options configures New.
type Options struct {
	Level      string
	File       string   // rotated log file; empty disables file output
	Writer     []string // any of "console", "file"
	MaxSizeMB  int
	MaxBackups int
}

type zlogger struct {
	z zerolog.Logger
}

// New builds a Logger writing to the sinks named in opts.Writer. The returned
// closer releases the rotating file, if one was opened.
func New(opts Options) (Logger, io.Closer, error) {
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	var (
		writers []io.Writer
		closer  io.Closer = nopCloser{}
	)
	for _, w := range opts.Writer {
		switch w {
		case "console":
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
		case "file":
			if opts.File == "" {
				continue
			}
			if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
				return nil, nil, fmt.Errorf("create log directory: %w", err)
			}
			lj := &lumberjack.Logger{
				Filename:   opts.File,
				MaxSize:    opts.MaxSizeMB,
				MaxBackups: opts.MaxBackups,
				Compress:   true,
			}
			writers = append(writers, lj)
			closer = lj
		default:
			return nil, nil, fmt.Errorf("unknown log writer %q", w)
		}
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	z := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()
	return &zlogger{z: z}, closer, nil
}

// NewWriter returns a Logger emitting JSON lines to w at debug level.
func NewWriter(w io.Writer) Logger {
	return &zlogger{z: zerolog.New(w).Level(zerolog.DebugLevel).With().Timestamp().Logger()}
}

// NewNop returns a Logger that discards everything.
func NewNop() Logger {
	return &zlogger{z: zerolog.Nop()}
}

func (l *zlogger) Debug(msg string, kv ...any) { l.z.Debug().Fields(kv).Msg(msg) }
func (l *zlogger) Info(msg string, kv ...any)  { l.z.Info().Fields(kv).Msg(msg) }
func (l *zlogger) Warn(msg string, kv ...any)  { l.z.Warn().Fields(kv).Msg(msg) }
func (l *zlogger) Error(msg string, kv ...any) { l.z.Error().Fields(kv).Msg(msg) }

func (l *zlogger) With(kv ...any) Logger {
	return &zlogger{z: l.z.With().Fields(kv).Logger()}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
