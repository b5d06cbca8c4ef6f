// ZeroClaw - personal agent channel runtime
// License: MIT
//
// Copyright (c) 2026 ZeroClaw contributors

// Package logger provides component-scoped structured logging for the
// runtime. Every record carries a "component" field (usually a channel
// name) so logs from concurrent adapters stay attributable.
package logger

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu  sync.RWMutex
	log = newLogger(zerolog.InfoLevel)
)

func newLogger(level zerolog.Level) zerolog.Logger {
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// SetLevel sets the global log level: debug, info, warn or error.
// Unknown values fall back to info.
func SetLevel(level string) {
	parsed := zerolog.InfoLevel
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		parsed = zerolog.DebugLevel
	case "info":
		parsed = zerolog.InfoLevel
	case "warn", "warning":
		parsed = zerolog.WarnLevel
	case "error":
		parsed = zerolog.ErrorLevel
	}

	mu.Lock()
	log = newLogger(parsed)
	mu.Unlock()
}

func emit(level zerolog.Level, component, msg string, fields map[string]interface{}) {
	mu.RLock()
	l := log
	mu.RUnlock()

	ev := l.WithLevel(level).Str("component", component)
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func DebugC(component, msg string) { emit(zerolog.DebugLevel, component, msg, nil) }

func DebugCF(component, msg string, fields map[string]interface{}) {
	emit(zerolog.DebugLevel, component, msg, fields)
}

func InfoC(component, msg string) { emit(zerolog.InfoLevel, component, msg, nil) }

func InfoCF(component, msg string, fields map[string]interface{}) {
	emit(zerolog.InfoLevel, component, msg, fields)
}

func WarnC(component, msg string) { emit(zerolog.WarnLevel, component, msg, nil) }

func WarnCF(component, msg string, fields map[string]interface{}) {
	emit(zerolog.WarnLevel, component, msg, fields)
}

func ErrorC(component, msg string) { emit(zerolog.ErrorLevel, component, msg, nil) }

func ErrorCF(component, msg string, fields map[string]interface{}) {
	emit(zerolog.ErrorLevel, component, msg, fields)
}
