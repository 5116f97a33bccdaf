// Package logging provides the structured logger used across the engine.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ExtendedLogger is the logging surface consumed by every package in the
// engine. Components depend on this interface, never on logrus directly, so
// tests can swap in a no-op or buffering logger.
type ExtendedLogger interface {
	Infof(format string, args ...any)
	Errorf(format string, args ...any)
	Warnf(format string, args ...any)
	Debugf(format string, args ...any)
	Info(args ...any)
	Error(args ...any)
	Warn(args ...any)
	Debug(args ...any)
	WithField(key string, value any) *logrus.Entry
	WithFields(fields logrus.Fields) *logrus.Entry
}

// Logger implements ExtendedLogger on top of logrus.
type Logger struct {
	logger *logrus.Logger
	file   *os.File
}

// New creates a logger writing to logFile (and optionally stdout) at the
// given level/format. An empty logFile falls back to logs/engine-<date>.log.
func New(logFile, level, format string, enableStdout bool) (Logger, error) {
	logrusLogger := logrus.New()

	parsedLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return Logger{}, fmt.Errorf("invalid log level: %w", err)
	}
	logrusLogger.SetLevel(parsedLevel)

	prettifier := func(f *runtime.Frame) (string, string) {
		return "", fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
	}

	switch strings.ToLower(format) {
	case "json":
		logrusLogger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: prettifier,
		})
	case "text", "":
		logrusLogger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: prettifier,
		})
	default:
		return Logger{}, fmt.Errorf("unsupported log format: %s", format)
	}
	logrusLogger.SetReportCaller(true)

	if logFile == "" {
		logFile = fmt.Sprintf("logs/engine-%s.log", time.Now().Format("2006-01-02"))
	}
	if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
		return Logger{}, fmt.Errorf("failed to create log directory: %w", err)
	}
	//nolint:gosec // G304: logFile comes from configuration, not user input
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return Logger{}, fmt.Errorf("failed to open log file: %w", err)
	}

	if enableStdout {
		logrusLogger.SetOutput(io.MultiWriter(file, os.Stdout))
	} else {
		logrusLogger.SetOutput(file)
	}

	return Logger{logger: logrusLogger, file: file}, nil
}

// NewDefault creates a logger with sane defaults for tests and short-lived
// CLI invocations.
func NewDefault() Logger {
	l, err := New("logs/default.log", "info", "text", false)
	if err != nil {
		// stderr-only logger as last resort
		fallback := logrus.New()
		fallback.SetOutput(os.Stderr)
		return Logger{logger: fallback}
	}
	return l
}

func (l Logger) Infof(format string, args ...any)  { l.logger.Infof(format, args...) }
func (l Logger) Errorf(format string, args ...any) { l.logger.Errorf(format, args...) }
func (l Logger) Warnf(format string, args ...any)  { l.logger.Warnf(format, args...) }
func (l Logger) Debugf(format string, args ...any) { l.logger.Debugf(format, args...) }
func (l Logger) Info(args ...any)                  { l.logger.Info(args...) }
func (l Logger) Error(args ...any)                 { l.logger.Error(args...) }
func (l Logger) Warn(args ...any)                  { l.logger.Warn(args...) }
func (l Logger) Debug(args ...any)                 { l.logger.Debug(args...) }

func (l Logger) WithField(key string, value any) *logrus.Entry {
	return l.logger.WithField(key, value)
}

func (l Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.logger.WithFields(fields)
}

// Close flushes and closes the underlying log file, if any.
func (l Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
