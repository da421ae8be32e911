// Package log provides a thin wrapper around zap so that packages can log
// through a shared, leveled default logger without threading a logger value
// everywhere.
package log

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu    sync.Mutex
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	l     = newLogger()
)

func newLogger(options ...zap.Option) *zap.Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), level)
	return zap.New(core, append(options, zap.AddCaller(), zap.AddCallerSkip(1))...)
}

// NewLoggerWithLevel creates a named logger sharing the default output, but
// with its own minimum level. Useful for noisy third-party integrations such
// as memberlist.
func NewLoggerWithLevel(name string, lvl zapcore.Level, options ...zap.Option) *zap.Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), zap.NewAtomicLevelAt(lvl))
	return zap.New(core, options...).Named(name)
}

// SetLevel adjusts the level of the default logger.
func SetLevel(lvl zapcore.Level) {
	mu.Lock()
	defer mu.Unlock()
	level.SetLevel(lvl)
}

func Debug(msg string, fields ...zap.Field) { l.Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { l.Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { l.Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { l.Error(msg, fields...) }

func Debugf(format string, args ...interface{}) { l.Debug(fmt.Sprintf(format, args...)) }
func Infof(format string, args ...interface{})  { l.Info(fmt.Sprintf(format, args...)) }
func Warnf(format string, args ...interface{})  { l.Warn(fmt.Sprintf(format, args...)) }
func Errorf(format string, args ...interface{}) { l.Error(fmt.Sprintf(format, args...)) }

func Fatal(args ...interface{}) {
	l.Fatal(fmt.Sprint(args...))
}

func Fatalf(format string, args ...interface{}) {
	l.Fatal(fmt.Sprintf(format, args...))
}
