package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/keithlinneman/linnemanlabs-cms/internal/log"
)

const slowQuery = 200 * time.Millisecond

// gormLogger sends gorm output to the app logger. SQL text is only logged at
// debug level; it can contain user content.
type gormLogger struct {
	L     log.Logger
	level gormlogger.LogLevel
}

func newGormLogger(L log.Logger) gormlogger.Interface {
	return &gormLogger{L: L.With("component", "store"), level: gormlogger.Warn}
}

func (g *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *g
	cp.level = level
	return &cp
}

func (g *gormLogger) Info(ctx context.Context, msg string, args ...any) {
	if g.level >= gormlogger.Info {
		g.L.Info(ctx, msg, "args", args)
	}
}

func (g *gormLogger) Warn(ctx context.Context, msg string, args ...any) {
	if g.level >= gormlogger.Warn {
		g.L.Warn(ctx, msg, "args", args)
	}
}

func (g *gormLogger) Error(ctx context.Context, msg string, args ...any) {
	if g.level >= gormlogger.Error {
		g.L.Warn(ctx, msg, "args", args)
	}
}

func (g *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && !errors.Is(err, gorm.ErrDuplicatedKey) && g.level >= gormlogger.Error:
		_, rows := fc()
		g.L.Error(ctx, err, "sql query failed", "duration", elapsed.Seconds(), "rows", rows)
	case elapsed > slowQuery && g.level >= gormlogger.Warn:
		_, rows := fc()
		g.L.Warn(ctx, "slow sql query", "duration", elapsed.Seconds(), "rows", rows)
	case g.level >= gormlogger.Info:
		sql, rows := fc()
		g.L.Debug(ctx, "sql query", "sql", sql, "duration", elapsed.Seconds(), "rows", rows)
	}
}
