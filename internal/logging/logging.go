// Package logging provides the optional, injectable file logger shared by
// both executables. It is off by default (a no-op) and, when enabled,
// writes call-indented entries to a timestamped file under logs/, mirroring
// the call-stack-indented LOG_FUNCTION()/LOG_MESSAGE() style of the tool
// this project descends from, expressed as an explicit dependency instead
// of a global singleton.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the call-indented logger injected into the components that
// need it. The zero value is not usable; construct with New or Noop.
type Logger struct {
	sugar *zap.SugaredLogger
	sync  func() error
	depth atomic.Int32
}

// Noop returns a Logger that discards everything, used when --log is not
// given. Every component takes a *Logger unconditionally; only its
// construction differs.
func Noop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar(), sync: func() error { return nil }}
}

// New creates a file-backed Logger for component (e.g. "sniffer" or
// "gen-app"), writing JSON lines under logs/log_<component>_<timestamp>.txt.
func New(component string) (*Logger, error) {
	dir := "logs"
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	timestamp := time.Now().Format("2006_01_02_15_04_05_000")
	path := filepath.Join(dir, fmt.Sprintf("log_%s_%s.txt", component, timestamp))

	writer := &lumberjack.Logger{
		Filename:  path,
		MaxSize:   100,
		LocalTime: true,
	}

	encoderCfg := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "component",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(writer), zapcore.DebugLevel)
	logger := zap.New(core).Named(component)

	return &Logger{sugar: logger.Sugar(), sync: logger.Sync}, nil
}

// Trace logs entry into function and returns a closure to be deferred that
// logs the exit, indenting nested calls by two spaces per depth level —
// the Go idiom for the original's RAII FunctionLogger scope guard.
func (l *Logger) Trace(function string) func() {
	depth := l.depth.Add(1)
	indent := indentFor(depth)
	l.sugar.Debugf("%s-> %s", indent, function)
	return func() {
		l.sugar.Debugf("%s<- %s", indent, function)
		l.depth.Add(-1)
	}
}

// Message logs a single indented informational line at the current call
// depth, mirroring LOG_MESSAGE().
func (l *Logger) Message(msg string, args ...interface{}) {
	indent := indentFor(l.depth.Load())
	l.sugar.Debugf("%s%s", indent, fmt.Sprintf(msg, args...))
}

// Sync flushes buffered log entries; call on shutdown.
func (l *Logger) Sync() error {
	if l.sync == nil {
		return nil
	}
	return l.sync()
}

func indentFor(depth int32) string {
	if depth < 0 {
		depth = 0
	}
	b := make([]byte, depth*2)
	for i := range b {
		b[i] = ' '
	}
	return string(b)
}
