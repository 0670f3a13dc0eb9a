// File: internal/observability/logger.go
package observability

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/xkilldash9x/scalpel-driver/internal/config"
)

var (
	globalLogger atomic.Pointer[zap.Logger]
	once         sync.Once
)

const colorReset = "\x1b[0m"

// ansi translates friendly color names from the config to terminal codes.
var ansi = map[string]string{
	"black":   "\x1b[30m",
	"red":     "\x1b[31m",
	"green":   "\x1b[32m",
	"yellow":  "\x1b[33m",
	"blue":    "\x1b[34m",
	"magenta": "\x1b[35m",
	"cyan":    "\x1b[36m",
	"white":   "\x1b[37m",
}

// Initialize sets up the global logger. Console output goes to consoleWriter;
// when cfg.LogFile is set, a JSON copy is written to a rotated file as well.
// Only the first call has any effect.
func Initialize(cfg config.LoggerConfig, consoleWriter zapcore.WriteSyncer) {
	once.Do(func() {
		level := zap.NewAtomicLevel()
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			level.SetLevel(zap.InfoLevel)
		}

		cores := []zapcore.Core{zapcore.NewCore(encoderFor(cfg), consoleWriter, level)}
		if cfg.LogFile != "" {
			rotated := &lumberjack.Logger{
				Filename:   cfg.LogFile,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   cfg.Compress,
			}
			fileEncoder := encoderFor(config.LoggerConfig{Format: "json"})
			cores = append(cores, zapcore.NewCore(fileEncoder, zapcore.AddSync(rotated), level))
		}

		options := []zap.Option{zap.AddStacktrace(zap.ErrorLevel)}
		if cfg.AddSource {
			options = append(options, zap.AddCaller())
		}

		logger := zap.New(zapcore.NewTee(cores...), options...)
		if cfg.ServiceName != "" {
			logger = logger.Named(cfg.ServiceName)
		}
		globalLogger.Store(logger)
		zap.ReplaceGlobals(logger)
		zap.RedirectStdLog(logger)
	})
}

// InitializeLogger initializes the global logger on stderr, leaving stdout to
// command output.
func InitializeLogger(cfg config.LoggerConfig) {
	Initialize(cfg, zapcore.Lock(os.Stderr))
}

// ResetForTest clears the global logger so Initialize can run again.
// Tests only.
func ResetForTest() {
	globalLogger.Store(nil)
	once = sync.Once{}
}

func levelColor(level zapcore.Level, colors config.ColorConfig) string {
	switch level {
	case zapcore.DebugLevel:
		return ansi[colors.Debug]
	case zapcore.InfoLevel:
		return ansi[colors.Info]
	case zapcore.WarnLevel:
		return ansi[colors.Warn]
	case zapcore.ErrorLevel:
		return ansi[colors.Error]
	case zapcore.DPanicLevel:
		return ansi[colors.DPanic]
	case zapcore.PanicLevel:
		return ansi[colors.Panic]
	case zapcore.FatalLevel:
		return ansi[colors.Fatal]
	}
	return ""
}

func colorLevelEncoder(colors config.ColorConfig) zapcore.LevelEncoder {
	return func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		name := level.CapitalString()
		if c := levelColor(level, colors); c != "" {
			name = c + name + colorReset
		}
		enc.AppendString(name)
	}
}

// encoderFor returns a colorized single-line console encoder for "console" and
// a JSON encoder for anything else.
func encoderFor(cfg config.LoggerConfig) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")

	if cfg.Format == "console" {
		ec.EncodeLevel = colorLevelEncoder(cfg.Colors)
		// "scalpel-driver.session.resolver." reads as a component prefix.
		ec.EncodeName = func(name string, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(name + ".")
		}
		return zapcore.NewConsoleEncoder(ec)
	}

	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(ec)
}

// GetLogger returns the global logger, or a development logger named
// "fallback" when Initialize has not run.
func GetLogger() *zap.Logger {
	if logger := globalLogger.Load(); logger != nil {
		return logger
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	l.Warn("Global logger requested before initialization; using fallback.")
	return l.Named("fallback")
}

// Sync flushes buffered entries. Errors from syncing terminals are ignored.
func Sync() {
	logger := globalLogger.Load()
	if logger == nil {
		return
	}
	if err := logger.Sync(); err != nil && !ignorableSyncError(err) {
		fmt.Fprintln(os.Stderr, "Error: failed to sync logger:", err)
	}
}

func ignorableSyncError(err error) bool {
	if errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) || errors.Is(err, syscall.ENOTSUP) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stdout") || strings.Contains(msg, "sync /dev/stderr")
}
