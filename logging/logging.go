// Package logging provides real-time console output for the client.
// Output is monitoring dressing only; nothing in the client's behavior
// depends on it.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger provides structured logging to stdout.
type Logger struct {
	mu        sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
	traceID   string
}

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// New creates a new Logger.
func New() *Logger {
	return &Logger{
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: component,
		traceID:   l.traceID,
	}
}

// WithTraceID returns a new logger with the given trace ID.
func (l *Logger) WithTraceID(traceID string) *Logger {
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: l.component,
		traceID:   traceID,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields formats a map of fields as key=value pairs.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	var parts []string
	for k, v := range fields {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return " " + strings.Join(parts, " ")
}

// log writes a log entry in traditional format: LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write([]byte(line))
}

// --- Protocol event methods ---
// Called by the client as the stream and side channel make progress.

// StreamConnected logs a successful SSE stream connection.
func (l *Logger) StreamConnected(url string) {
	l.Info("stream_connected", map[string]interface{}{
		"url": url,
	})
}

// StreamFailed logs a failed or terminated stream.
func (l *Logger) StreamFailed(url string, err error) {
	l.Warn("stream_failed", map[string]interface{}{
		"url":   url,
		"error": err.Error(),
	})
}

// SessionCaptured logs capture of the session token.
func (l *Logger) SessionCaptured(sessionID string) {
	l.Info("session_captured", map[string]interface{}{
		"session_id": sessionID,
	})
}

// RequestSent logs an accepted side-channel submission.
func (l *Logger) RequestSent(method string, id int64, status int) {
	l.Debug("request_sent", map[string]interface{}{
		"method": method,
		"id":     id,
		"status": status,
	})
}

// ResponseMatched logs a response correlated to a pending request.
func (l *Logger) ResponseMatched(id int64, duration time.Duration) {
	l.Debug("response_matched", map[string]interface{}{
		"id":       id,
		"duration": duration.String(),
	})
}

// RequestTimeout logs a send that gave up waiting for its response.
func (l *Logger) RequestTimeout(method string, id int64, timeout time.Duration) {
	l.Warn("request_timeout", map[string]interface{}{
		"method":  method,
		"id":      id,
		"timeout": timeout.String(),
	})
}

// EventReceived logs an unsolicited stream event (payload without an id).
func (l *Logger) EventReceived(method string) {
	l.Debug("event_received", map[string]interface{}{
		"method": method,
	})
}

// MalformedPayload logs a stream payload that failed JSON decoding.
// These are skipped, never escalated.
func (l *Logger) MalformedPayload(size int) {
	l.Debug("malformed_payload_skipped", map[string]interface{}{
		"bytes": size,
	})
}
