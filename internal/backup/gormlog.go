package backup

import (
	"context"
	"errors"
	"time"

	"github.com/runnerr0/sitetracker/internal/logging"
	"gorm.io/gorm/logger"
)

// GormLogger routes gorm's SQL logging into a logging.Logger.
type GormLogger struct {
	logging.Logger
	LogLevel      logger.LogLevel
	SlowThreshold time.Duration
}

// NewGormLogger returns a GormLogger that reports warnings and errors.
func NewGormLogger(l logging.Logger) *GormLogger {
	return &GormLogger{
		Logger:        l,
		LogLevel:      logger.Warn,
		SlowThreshold: time.Second,
	}
}

// LogMode returns a copy at the given level.
func (l *GormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	newLogger.LogLevel = level
	return &newLogger
}

func (l *GormLogger) Info(_ context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Info {
		l.Logger.Info(msg, "data", data)
	}
}

func (l *GormLogger) Warn(_ context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Warn {
		l.Logger.Warn(msg, "data", data)
	}
}

func (l *GormLogger) Error(_ context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Error {
		l.Logger.Error(msg, "data", data)
	}
}

// Trace logs one executed statement: failures as errors, slow statements as
// warnings, everything else at debug when the level is Info.
func (l *GormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []any{
		"sql", sql,
		"rows", rows,
		"timeMs", float64(elapsed.Nanoseconds()) / 1e6,
	}

	switch {
	case err != nil && l.LogLevel >= logger.Error && !errors.Is(err, logger.ErrRecordNotFound):
		l.Logger.Error("backup sql failed", append(fields, "error", err.Error())...)
	case elapsed > l.SlowThreshold && l.LogLevel >= logger.Warn:
		l.Logger.Warn("slow backup sql", append(fields, "threshold", l.SlowThreshold.String())...)
	case l.LogLevel == logger.Info:
		l.Logger.Debug("backup sql", fields...)
	}
}
