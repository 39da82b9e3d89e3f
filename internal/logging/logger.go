package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/high-horse/fingerprint-server/internal/config"
)

// CurrentLink is the symlink kept pointing at the active rotated log file.
const CurrentLink = "current.log"

// NewLogger builds a production ready structured logger writing JSON to
// stdout and, when cfg.File is set, to a rotating file. The returned writer
// fans out to the same destinations for access logs.
func NewLogger(cfg config.LogConfig) (*zap.Logger, io.Writer, error) {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg config.LogConfig, stdout io.Writer) (*zap.Logger, io.Writer, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("log level: %w", err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	enc := zapcore.NewJSONEncoder(encCfg)
	atom := zap.NewAtomicLevelAt(level)

	out := io.Writer(stdout)
	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(stdout)), atom)

	if cfg.File != "" {
		rot, err := rotatelogs.New(cfg.File,
			rotatelogs.WithLinkName(filepath.Join(filepath.Dir(cfg.File), CurrentLink)),
			rotatelogs.WithMaxAge(cfg.MaxAge),
			rotatelogs.WithRotationTime(cfg.RotationTime),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("log file: %w", err)
		}
		core = zapcore.NewTee(core, zapcore.NewCore(enc.Clone(), zapcore.AddSync(rot), atom))
		out = io.MultiWriter(stdout, rot)
	}

	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, out, nil
}

// WithOperation enriches the logger with operation and request identifiers.
func WithOperation(logger *zap.Logger, operation, requestID string) *zap.Logger {
	fields := []zap.Field{zap.String("operation", operation)}
	if requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	return logger.With(fields...)
}
