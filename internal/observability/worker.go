package observability

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/cadencectl/cadence/internal/config"
)

// NewWorkerLogger builds the zap logger handed to the control engine. It
// writes to stderr and, when cfg.File is set, to a size-rotated file. The
// returned closer flushes and closes the file sink.
func NewWorkerLogger(serviceName string, cfg config.LoggingConfig, verbose bool) (*zap.Logger, io.Closer, error) {
	return newWorkerLogger(serviceName, cfg, verbose, os.Stderr)
}

func newWorkerLogger(serviceName string, cfg config.LoggingConfig, verbose bool, stderr io.Writer) (*zap.Logger, io.Closer, error) {
	level := zapcore.InfoLevel
	if raw := strings.TrimSpace(cfg.Level); raw != "" {
		parsed, err := zapcore.ParseLevel(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid log level: %w", err)
		}
		level = parsed
	}
	if verbose {
		level = zapcore.DebugLevel
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	cores := []zapcore.Core{zapcore.NewCore(encoder, zapcore.AddSync(stderr), level)}
	var closer io.Closer = nopCloser{}

	if file := strings.TrimSpace(cfg.File); file != "" {
		// #nosec G301 -- log directories use 0755 for multi-user access compatibility
		if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		rotator := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		// Files always get JSON so they stay machine-readable.
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(rotator), level))
		closer = rotator
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller()).
		Named(serviceName).
		With(zap.Int("pid", os.Getpid()))
	return logger, syncCloser{logger: logger, closer: closer}, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type syncCloser struct {
	logger *zap.Logger
	closer io.Closer
}

func (s syncCloser) Close() error {
	// Sync on stderr reports EINVAL on some platforms; only the file matters.
	_ = s.logger.Sync()
	return s.closer.Close()
}
