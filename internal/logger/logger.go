package logger

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// Environment variable to configure log file path.
	envLogPath = "KVCACHE_LOG"
	// Environment variable to configure the minimum level.
	envLogLevel = "LOG_LEVEL"
)

var (
	std           = zap.NewNop()
	sugar         = std.Sugar()
	isInitialized bool
)

// L returns the process logger. It is a no-op logger until Init succeeds.
func L() *zap.Logger { return std }

// InitFromEnv initializes the logger using KVCACHE_LOG or a default path.
func InitFromEnv() error {
	path := os.Getenv(envLogPath)
	if path == "" {
		// Default to the directory where the executable is located
		if exePath, err := os.Executable(); err == nil {
			path = filepath.Join(filepath.Dir(exePath), "kvcache.log")
		} else {
			path = "./kvcache.log"
		}
	}
	return Init(path, os.Getenv(envLogLevel))
}

// Init initializes the logger to write JSON lines to the provided file path.
// It creates parent directories if needed. An empty or unknown level means info.
func Init(path, level string) error {
	if isInitialized {
		return nil
	}
	if err := ensureParentDir(path); err != nil {
		return err
	}
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil {
			lvl = zapcore.InfoLevel
		}
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{path}
	cfg.ErrorOutputPaths = []string{path}
	l, err := cfg.Build(zap.AddCaller(), zap.AddCallerSkip(1))
	if err != nil {
		return err
	}
	std = l
	sugar = l.Sugar()
	isInitialized = true
	return nil
}

// Close flushes buffered entries.
func Close() error {
	if !isInitialized {
		return nil
	}
	// Sync on a regular file only fails on real I/O errors.
	return std.Sync()
}

// Infof logs informational messages.
func Infof(format string, args ...any) { sugar.Infof(format, args...) }

// Warnf logs warnings.
func Warnf(format string, args ...any) { sugar.Warnf(format, args...) }

// Errorf logs errors.
func Errorf(format string, args ...any) { sugar.Errorf(format, args...) }

func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
