// Package logger builds the process-wide zap logger.
package logger

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"quitcoach/internal/config"
)

// New builds a zap logger from config. Development mode uses the console
// encoder; production uses JSON. When a Sentry DSN is configured, error-level
// entries are forwarded to Sentry.
func New(cfg *config.Config) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Log.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	var opts []zap.Option
	if cfg.Log.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.Log.SentryDSN}); err != nil {
			return nil, fmt.Errorf("failed to initialize sentry: %w", err)
		}
		opts = append(opts, zap.Hooks(sentryHook))
	}
	return zc.Build(opts...)
}

func sentryHook(e zapcore.Entry) error {
	if e.Level < zapcore.ErrorLevel {
		return nil
	}
	sentry.CaptureMessage(fmt.Sprintf("[%s] %s", e.LoggerName, e.Message))
	return nil
}

// Flush drains buffered log entries and pending Sentry events.
func Flush(log *zap.Logger) {
	_ = log.Sync()
	sentry.Flush(2 * time.Second)
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
