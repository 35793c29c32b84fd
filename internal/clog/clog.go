// Copyright 2019-2021 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.
// Package clog provides the leveled logger shared by the three GOOSE
// security engines (bump-in-the-wire gateway, publisher, subscriber).
package clog

import (
	"log"
	"os"
	"sync/atomic"
)

// Provider is the minimal leveled logging surface the engines depend on.
type Provider interface {
	Critical(format string, v ...interface{})
	Error(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Debug(format string, v ...interface{})
}

// Logger wraps a Provider with a runtime enable switch for the Debug level,
// so per-frame telemetry can be toggled without recompiling.
type Logger struct {
	provider Provider
	// debug is 1 when Debug-level messages are emitted, 0 otherwise.
	debug uint32
}

// New creates a Logger that writes to stderr with the given prefix.
func New(prefix string) *Logger {
	return &Logger{
		provider: defaultProvider{log.New(os.Stderr, prefix, log.LstdFlags|log.Lmicroseconds)},
	}
}

// SetDebug enables or disables Debug-level output.
func (l *Logger) SetDebug(enable bool) {
	if enable {
		atomic.StoreUint32(&l.debug, 1)
	} else {
		atomic.StoreUint32(&l.debug, 0)
	}
}

// Critical logs a fatal-at-startup class message.
func (l *Logger) Critical(format string, v ...interface{}) {
	l.provider.Critical(format, v...)
}

// Error logs a runtime failure the engine continues past, such as a failed
// publish or status-file write.
func (l *Logger) Error(format string, v ...interface{}) {
	l.provider.Error(format, v...)
}

// Warn logs a per-frame rejection that did not stop the engine.
func (l *Logger) Warn(format string, v ...interface{}) {
	l.provider.Warn(format, v...)
}

// Debug logs frame-level telemetry, gated by SetDebug.
func (l *Logger) Debug(format string, v ...interface{}) {
	if atomic.LoadUint32(&l.debug) == 1 {
		l.provider.Debug(format, v...)
	}
}

type defaultProvider struct {
	*log.Logger
}

var _ Provider = defaultProvider{}

func (p defaultProvider) Critical(format string, v ...interface{}) { p.Printf("[CRIT] "+format, v...) }
func (p defaultProvider) Error(format string, v ...interface{})    { p.Printf("[ERR] "+format, v...) }
func (p defaultProvider) Warn(format string, v ...interface{})     { p.Printf("[WARN] "+format, v...) }
func (p defaultProvider) Debug(format string, v ...interface{})    { p.Printf("[DBG] "+format, v...) }
