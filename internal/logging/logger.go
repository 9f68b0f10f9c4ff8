package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production JSON logger at the given level and installs it as
// the zap global so packages that log through zap.L() share it.
func New(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

// MigrateLogger adapts zap to the golang-migrate Logger interface.
type MigrateLogger struct {
	Logger *zap.Logger
}

func (l *MigrateLogger) Printf(format string, v ...any) {
	l.Logger.Sugar().Infof(strings.TrimSuffix(format, "\n"), v...)
}

func (l *MigrateLogger) Verbose() bool {
	return l.Logger.Core().Enabled(zapcore.DebugLevel)
}
