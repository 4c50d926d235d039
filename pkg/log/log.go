// Copyright 2019 The guestnet Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log provides a minimal leveled logging facility.
//
// The process-global logger is shared by every package in this module; the
// embedding emulator may redirect or silence it via SetTarget and SetLevel.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Level is the log level.
type Level uint32

// The set of levels, in order of increasing verbosity.
const (
	// Warning indicates a problem that the integrating emulator should
	// know about, but that the proxy recovered from.
	Warning Level = iota

	// Info is general operational notes.
	Info

	// Debug is verbose per-operation detail, including expected failures
	// such as would-block results.
	Debug
)

// String implements fmt.Stringer.
func (l Level) String() string {
	switch l {
	case Warning:
		return "warning"
	case Info:
		return "info"
	case Debug:
		return "debug"
	default:
		return fmt.Sprintf("invalid(%d)", l)
	}
}

// Emitter is the final destination for log lines.
type Emitter interface {
	// Emit emits the given log statement. Emit is called with the
	// logger's lock held, so implementations need no further
	// serialization.
	Emit(level Level, timestamp time.Time, format string, v ...any)
}

// Writer writes formatted log lines to an io.Writer.
type Writer struct {
	// Next is where lines are written.
	Next io.Writer
}

// Emit implements Emitter.Emit.
func (w *Writer) Emit(level Level, timestamp time.Time, format string, v ...any) {
	fmt.Fprintf(w.Next, "%s %c] %s\n",
		timestamp.Format("15:04:05.000000"),
		"WID"[level],
		fmt.Sprintf(format, v...))
}

// Logger is a high-level logging interface. It is in fact, not used within
// this package directly, but is provided for convenience.
type Logger interface {
	// Debugf logs a debug statement.
	Debugf(format string, v ...any)

	// Infof logs at an info level.
	Infof(format string, v ...any)

	// Warningf logs at a warning level.
	Warningf(format string, v ...any)

	// IsLogging returns true iff the level is being logged.
	IsLogging(level Level) bool
}

// BasicLogger is the standard implementation of Logger.
type BasicLogger struct {
	mu    sync.Mutex
	level Level
	Emitter
}

// Debugf implements Logger.Debugf.
func (l *BasicLogger) Debugf(format string, v ...any) {
	l.emit(Debug, format, v...)
}

// Infof implements Logger.Infof.
func (l *BasicLogger) Infof(format string, v ...any) {
	l.emit(Info, format, v...)
}

// Warningf implements Logger.Warningf.
func (l *BasicLogger) Warningf(format string, v ...any) {
	l.emit(Warning, format, v...)
}

// IsLogging implements Logger.IsLogging.
func (l *BasicLogger) IsLogging(level Level) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return level <= l.level
}

// SetLevel sets the logging level.
func (l *BasicLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *BasicLogger) emit(level Level, format string, v ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level > l.level {
		return
	}
	l.Emit(level, time.Now(), format, v...)
}

var logMu sync.Mutex

// log is the global logger.
var log atomic.Pointer[BasicLogger]

// Log retrieves the global logger.
func Log() *BasicLogger {
	if l := log.Load(); l != nil {
		return l
	}
	logMu.Lock()
	defer logMu.Unlock()
	if l := log.Load(); l != nil {
		return l
	}
	l := &BasicLogger{level: Info, Emitter: &Writer{Next: os.Stderr}}
	log.Store(l)
	return l
}

// SetTarget sets the log target for the global logger.
//
// This is not thread safe and shouldn't be changed while in use.
func SetTarget(target Emitter) {
	Log().Emitter = target
}

// SetLevel sets the log level for the global logger.
func SetLevel(newLevel Level) {
	Log().SetLevel(newLevel)
}

// Debugf logs to the global logger.
func Debugf(format string, v ...any) {
	Log().Debugf(format, v...)
}

// Infof logs to the global logger.
func Infof(format string, v ...any) {
	Log().Infof(format, v...)
}

// Warningf logs to the global logger.
func Warningf(format string, v ...any) {
	Log().Warningf(format, v...)
}

// IsLogging returns whether the global logger is logging at level.
func IsLogging(level Level) bool {
	return Log().IsLogging(level)
}
