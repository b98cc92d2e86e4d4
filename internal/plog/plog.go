// Copyright (C) 2022 K2 Cyber Security Inc.

// Simple leveled logging, as cheap as possible when disabled: disabled
// levels are backed by a no-op implementation so that a disabled call only
// costs an interface method call.

package plog

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the log level. Higher levels include lowers.
type LogLevel int

const (
	// Disabled value.
	Disabled LogLevel = iota
	// Error logs.
	Error
	// Info to Error logs.
	Info
	// Debug to Error logs.
	Debug
)

// String representations of log levels.
const (
	DisabledString = "disabled"
	ErrorString    = "error"
	InfoString     = "info"
	DebugString    = "debug"
)

func (l LogLevel) String() string {
	switch l {
	case Error:
		return ErrorString
	case Info:
		return InfoString
	case Debug:
		return DebugString
	}
	return DisabledString
}

// ParseLogLevel returns the logger level corresponding to the string
// representation `level`. The returned LogLevel is Disabled when none matches.
func ParseLogLevel(level string) LogLevel {
	switch strings.TrimSpace(strings.ToLower(level)) {
	case DebugString:
		return Debug
	case InfoString:
		return Info
	case ErrorString:
		return Error
	default:
		return Disabled
	}
}

// Logger wraps one logger implementation per level.
type Logger struct {
	DebugLevelLogger
	level LogLevel
}

type (
	DebugLevelLogger interface {
		DebugLogger
		InfoLevelLogger
	}

	InfoLevelLogger interface {
		InfoLogger
		ErrorLevelLogger
	}

	ErrorLevelLogger ErrorLogger

	ErrorLogger interface {
		Error(err error)
	}

	InfoLogger interface {
		Info(v ...interface{})
		Infof(format string, v ...interface{})
	}

	DebugLogger interface {
		Debug(v ...interface{})
		Debugf(format string, v ...interface{})
	}
)

// NewLogger returns a Logger writing levels up to `level` into `out`. Logged
// errors are also sent, without blocking, to errChan when it is not nil, no
// matter the level.
func NewLogger(level LogLevel, out io.Writer, errChan chan error) *Logger {
	var levelLogger DebugLevelLogger
	switch level {
	case Debug:
		levelLogger = debugLevelLogger{
			infoLevelLogger: infoLevelLogger{
				errorLevelLogger: newErrorLevelLogger(out, errChan, true),
			},
		}
	case Info:
		levelLogger = infoLevelLogger{
			errorLevelLogger: newErrorLevelLogger(out, errChan, false),
		}
	case Error:
		levelLogger = newErrorLevelLogger(out, errChan, false)
	default:
		levelLogger = disabledLogger{errChan: errChan}
	}
	return &Logger{
		DebugLevelLogger: levelLogger,
		level:            level,
	}
}

// Level returns the level the logger was created with.
func (l *Logger) Level() LogLevel {
	return l.level
}

func newErrorLevelLogger(out io.Writer, errChan chan error, verbose bool) *errorLevelLogger {
	return &errorLevelLogger{
		disabledLogger: disabledLogger{errChan: errChan},
		writer:         &logWriter{out: out},
		verbose:        verbose,
	}
}

type (
	debugLevelLogger struct {
		infoLevelLogger
	}

	infoLevelLogger struct {
		*errorLevelLogger
	}

	errorLevelLogger struct {
		disabledLogger
		writer *logWriter
		// Print errors with their stack traces.
		verbose bool
	}

	disabledLogger struct {
		errChan chan error
	}
)

func (l debugLevelLogger) Debug(v ...interface{}) {
	l.writer.write(Debug, fmt.Sprint(v...))
}

func (l debugLevelLogger) Debugf(format string, v ...interface{}) {
	l.writer.write(Debug, fmt.Sprintf(format, v...))
}

func (l infoLevelLogger) Info(v ...interface{}) {
	l.writer.write(Info, fmt.Sprint(v...))
}

func (l infoLevelLogger) Infof(format string, v ...interface{}) {
	l.writer.write(Info, fmt.Sprintf(format, v...))
}

func (l *errorLevelLogger) Error(err error) {
	l.disabledLogger.Error(err)
	format := "%v"
	if l.verbose {
		format = "%+v"
	}
	l.writer.write(Error, fmt.Sprintf(format, err))
}

func (l disabledLogger) Error(err error) {
	if l.errChan == nil {
		return
	}
	select {
	case l.errChan <- err:
	default:
	}
}
func (disabledLogger) Info(...interface{})           {}
func (disabledLogger) Infof(string, ...interface{})  {}
func (disabledLogger) Debug(...interface{})          {}
func (disabledLogger) Debugf(string, ...interface{}) {}

// Time formatting layout with microsecond precision.
const TimestampLayout = "2006-01-02T15:04:05.999999"

type logWriter struct {
	mu  sync.Mutex
	out io.Writer
}

func (l *logWriter) write(level LogLevel, message string) {
	var str strings.Builder
	str.WriteString("lochook/")
	str.WriteString(level.String())
	str.WriteString(" - ")
	str.WriteString(time.Now().Format(TimestampLayout))
	str.WriteString(" - ")
	str.WriteString(message)
	str.WriteString("\n")
	l.mu.Lock()
	_, _ = io.WriteString(l.out, str.String())
	l.mu.Unlock()
}
