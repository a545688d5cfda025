// Grinbot - plugin-driven conversational agent runtime
// License: MIT
//
// Copyright (c) 2026 Grinbot contributors

package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var (
	logLevelNames = map[LogLevel]string{
		DEBUG: "DEBUG",
		INFO:  "INFO",
		WARN:  "WARN",
		ERROR: "ERROR",
		FATAL: "FATAL",
	}

	zeroLevels = map[LogLevel]zerolog.Level{
		DEBUG: zerolog.DebugLevel,
		INFO:  zerolog.InfoLevel,
		WARN:  zerolog.WarnLevel,
		ERROR: zerolog.ErrorLevel,
		FATAL: zerolog.FatalLevel,
	}

	currentLevel = INFO
	console      io.Writer
	file         *os.File
	zl           zerolog.Logger
	mu           sync.RWMutex
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	rebuildLocked()
}

// rebuildLocked recreates the zerolog instance from the current outputs.
// Caller must hold mu.
func rebuildLocked() {
	var w io.Writer = console
	if file != nil {
		w = zerolog.MultiLevelWriter(console, file)
	}
	zl = zerolog.New(w).Level(zeroLevels[currentLevel]).With().Timestamp().Logger()
}

// ParseLevel maps a case-insensitive level name to a LogLevel.
func ParseLevel(name string) (LogLevel, bool) {
	for lvl, n := range logLevelNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return lvl, true
		}
	}
	return INFO, false
}

func SetLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	currentLevel = level
	rebuildLocked()
}

func GetLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return currentLevel
}

// SetFormat switches console output between human-readable ("console") and
// line-delimited JSON ("json").
func SetFormat(format string) {
	mu.Lock()
	defer mu.Unlock()
	if strings.EqualFold(format, "json") {
		console = os.Stderr
	} else {
		console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	rebuildLocked()
}

// SetOutput replaces the console writer. Used by tests to capture output.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	console = w
	rebuildLocked()
}

// EnableFileLogging mirrors every entry as JSON into filePath.
func EnableFileLogging(filePath string) error {
	mu.Lock()
	defer mu.Unlock()

	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	if file != nil {
		file.Close()
	}
	file = f
	rebuildLocked()
	return nil
}

func DisableFileLogging() {
	mu.Lock()
	defer mu.Unlock()

	if file != nil {
		file.Close()
		file = nil
		rebuildLocked()
	}
}

func logMessage(level LogLevel, component string, message string, fields map[string]any) {
	mu.RLock()
	l := zl
	mu.RUnlock()

	if level < GetLevel() {
		return
	}

	var ev *zerolog.Event
	switch level {
	case DEBUG:
		ev = l.Debug()
	case INFO:
		ev = l.Info()
	case WARN:
		ev = l.Warn()
	case ERROR:
		ev = l.Error()
	default:
		// zerolog's Fatal exits before we can flush the file; exit ourselves below.
		ev = l.WithLevel(zerolog.FatalLevel)
	}

	if component != "" {
		ev = ev.Str("component", component)
	}
	if len(fields) > 0 {
		ev = ev.Fields(fields)
	}
	ev.Msg(message)

	if level == FATAL {
		os.Exit(1)
	}
}

func Debug(message string) {
	logMessage(DEBUG, "", message, nil)
}

func DebugC(component string, message string) {
	logMessage(DEBUG, component, message, nil)
}

func DebugF(message string, fields map[string]any) {
	logMessage(DEBUG, "", message, fields)
}

func DebugCF(component string, message string, fields map[string]any) {
	logMessage(DEBUG, component, message, fields)
}

func Info(message string) {
	logMessage(INFO, "", message, nil)
}

func InfoC(component string, message string) {
	logMessage(INFO, component, message, nil)
}

func InfoF(message string, fields map[string]any) {
	logMessage(INFO, "", message, fields)
}

func InfoCF(component string, message string, fields map[string]any) {
	logMessage(INFO, component, message, fields)
}

func Warn(message string) {
	logMessage(WARN, "", message, nil)
}

func WarnC(component string, message string) {
	logMessage(WARN, component, message, nil)
}

func WarnF(message string, fields map[string]any) {
	logMessage(WARN, "", message, fields)
}

func WarnCF(component string, message string, fields map[string]any) {
	logMessage(WARN, component, message, fields)
}

func Error(message string) {
	logMessage(ERROR, "", message, nil)
}

func ErrorC(component string, message string) {
	logMessage(ERROR, component, message, nil)
}

func ErrorF(message string, fields map[string]any) {
	logMessage(ERROR, "", message, fields)
}

func ErrorCF(component string, message string, fields map[string]any) {
	logMessage(ERROR, component, message, fields)
}

func Fatal(message string) {
	logMessage(FATAL, "", message, nil)
}

func FatalC(component string, message string) {
	logMessage(FATAL, component, message, nil)
}

func FatalCF(component string, message string, fields map[string]any) {
	logMessage(FATAL, component, message, fields)
}
