package log

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// syncBuffer guards a bytes.Buffer for loggers shared across goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Reset() {
	b.mu.Lock()
	b.buf.Reset()
	b.mu.Unlock()
}

// TestLogger captures JSON log lines in memory for assertions.
type TestLogger struct {
	Logger
	buffer *syncBuffer
	level  *Level
}

// NewTestLogger creates a TestLogger that records messages at or above level.
//
//	logger := log.NewTestLogger(log.LevelDebug)
//	logger.Info("Calling optimizer", log.TreesKey, 3)
//	assert.True(t, logger.ContainsMessage("Calling optimizer"))
func NewTestLogger(level Level) *TestLogger {
	buf := &syncBuffer{}
	lv := level
	zl := zerolog.New(buf).Level(zerolog.DebugLevel)
	return &TestLogger{Logger: &zerologLogger{zl: zl}, buffer: buf, level: &lv}
}

func (t *TestLogger) Debug(msg string, fields ...any) {
	if *t.level <= LevelDebug {
		t.Logger.Debug(msg, fields...)
	}
}

func (t *TestLogger) Info(msg string, fields ...any) {
	if *t.level <= LevelInfo {
		t.Logger.Info(msg, fields...)
	}
}

func (t *TestLogger) Warn(msg string, fields ...any) {
	if *t.level <= LevelWarn {
		t.Logger.Warn(msg, fields...)
	}
}

func (t *TestLogger) Error(msg string, fields ...any) {
	if *t.level <= LevelError {
		t.Logger.Error(msg, fields...)
	}
}

// With keeps the capture buffer on the derived logger.
func (t *TestLogger) With(fields ...any) Logger {
	return &TestLogger{Logger: t.Logger.With(fields...), buffer: t.buffer, level: t.level}
}

// Enabled implements Logger.
func (t *TestLogger) Enabled(_ context.Context, level Level) bool {
	return *t.level <= level
}

// Output returns everything captured so far.
func (t *TestLogger) Output() string {
	return t.buffer.String()
}

// GetLogEntries parses the captured JSON lines.
func (t *TestLogger) GetLogEntries() ([]map[string]interface{}, error) {
	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(t.buffer.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ContainsMessage reports whether any captured entry has the given message.
func (t *TestLogger) ContainsMessage(message string) bool {
	entries, err := t.GetLogEntries()
	if err != nil {
		return false
	}
	for _, e := range entries {
		if m, ok := e[zerolog.MessageFieldName].(string); ok && strings.Contains(m, message) {
			return true
		}
	}
	return false
}

// ContainsField reports whether any entry has key equal to value.
// JSON numbers decode as float64.
func (t *TestLogger) ContainsField(key string, value interface{}) bool {
	entries, err := t.GetLogEntries()
	if err != nil {
		return false
	}
	for _, e := range entries {
		if v, ok := e[key]; ok && v == value {
			return true
		}
	}
	return false
}

// Clear drops all captured output.
func (t *TestLogger) Clear() {
	t.buffer.Reset()
}

// TestLoggerProvider hands out loggers sharing one capture buffer.
type TestLoggerProvider struct {
	logger *TestLogger
}

// NewTestLoggerProvider creates a provider backed by a TestLogger.
func NewTestLoggerProvider(level Level) *TestLoggerProvider {
	return &TestLoggerProvider{logger: NewTestLogger(level)}
}

// GetLogger implements LoggerProvider.
func (p *TestLoggerProvider) GetLogger() Logger {
	return p.logger
}

// GetLoggerWithName implements LoggerProvider.
func (p *TestLoggerProvider) GetLoggerWithName(name string) Logger {
	return p.logger.With(ComponentKey, name)
}

// SetLevel implements LoggerProvider.
func (p *TestLoggerProvider) SetLevel(level Level) {
	*p.logger.level = level
}

// Logger returns the underlying capture logger.
func (p *TestLoggerProvider) Logger() *TestLogger {
	return p.logger
}
