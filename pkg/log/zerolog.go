package log

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/YuminosukeSato/rgf/pkg/errors"
)

// zerologLogger adapts zerolog.Logger to the Logger interface.
type zerologLogger struct {
	zl zerolog.Logger
}

// NewZerologLogger wraps an existing zerolog.Logger.
func NewZerologLogger(zl zerolog.Logger) Logger {
	return &zerologLogger{zl: zl}
}

func (l *zerologLogger) Debug(msg string, fields ...any) { emit(l.zl.Debug(), msg, fields) }
func (l *zerologLogger) Info(msg string, fields ...any)  { emit(l.zl.Info(), msg, fields) }
func (l *zerologLogger) Warn(msg string, fields ...any)  { emit(l.zl.Warn(), msg, fields) }
func (l *zerologLogger) Error(msg string, fields ...any) { emit(l.zl.Error(), msg, fields) }

func (l *zerologLogger) With(fields ...any) Logger {
	if len(fields) == 0 {
		return l
	}
	return &zerologLogger{zl: l.zl.With().Fields(pairs(fields)).Logger()}
}

func (l *zerologLogger) Enabled(_ context.Context, level Level) bool {
	zlevel := toZerologLevel(level)
	return zlevel >= l.zl.GetLevel() && zlevel >= zerolog.GlobalLevel()
}

// emit writes one event. A leading error value is attached with its stack trace.
func emit(e *zerolog.Event, msg string, fields []any) {
	if e == nil {
		return
	}
	if len(fields) > 0 {
		if err, ok := fields[0].(error); ok {
			e = e.Err(err)
			if st := errors.StackTrace(err); st != "" {
				e = e.Str(StacktraceKey, st)
			}
			fields = fields[1:]
		}
	}
	if len(fields) > 0 {
		e = e.Fields(pairs(fields))
	}
	e.Msg(msg)
}

// pairs normalizes key/value arguments. Keys are stringified and a dangling
// key gets the value "!MISSING".
func pairs(fields []any) []any {
	out := make([]any, 0, len(fields)+1)
	for i := 0; i < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			key = "!BADKEY"
		}
		if i+1 < len(fields) {
			out = append(out, key, fields[i+1])
		} else {
			out = append(out, key, "!MISSING")
		}
	}
	return out
}

func toZerologLevel(level Level) zerolog.Level {
	switch {
	case level <= LevelDebug:
		return zerolog.DebugLevel
	case level <= LevelInfo:
		return zerolog.InfoLevel
	case level <= LevelWarn:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

// ParseLevel converts "debug", "info", "warn" or "error" into a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, errors.NewValidationError("log_level", "must be one of debug, info, warn, error", s)
	}
}

// ZerologProvider is the default LoggerProvider.
type ZerologProvider struct {
	mu    sync.RWMutex
	out   io.Writer
	level Level
}

// NewZerologProvider creates a provider writing JSON lines to w.
func NewZerologProvider(w io.Writer, level Level) *ZerologProvider {
	return &ZerologProvider{out: w, level: level}
}

func (p *ZerologProvider) base() zerolog.Logger {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return zerolog.New(p.out).Level(toZerologLevel(p.level)).With().Timestamp().Logger()
}

// GetLogger implements LoggerProvider.
func (p *ZerologProvider) GetLogger() Logger {
	return &zerologLogger{zl: p.base()}
}

// GetLoggerWithName implements LoggerProvider.
func (p *ZerologProvider) GetLoggerWithName(name string) Logger {
	return &zerologLogger{zl: p.base().With().Str(ComponentKey, name).Logger()}
}

// SetLevel implements LoggerProvider.
func (p *ZerologProvider) SetLevel(level Level) {
	p.mu.Lock()
	p.level = level
	p.mu.Unlock()
}

// SetOutput replaces the destination writer.
func (p *ZerologProvider) SetOutput(w io.Writer) {
	p.mu.Lock()
	p.out = w
	p.mu.Unlock()
}

var (
	providerMu      sync.RWMutex
	defaultProvider LoggerProvider = NewZerologProvider(os.Stderr, LevelInfo)
)

// SetProvider replaces the package-level provider.
func SetProvider(p LoggerProvider) {
	providerMu.Lock()
	defaultProvider = p
	providerMu.Unlock()
}

func provider() LoggerProvider {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return defaultProvider
}

// GetLogger returns a logger from the package-level provider.
func GetLogger() Logger { return provider().GetLogger() }

// GetLoggerWithName returns a named logger from the package-level provider.
func GetLoggerWithName(name string) Logger { return provider().GetLoggerWithName(name) }

// SetLevel sets the level of the package-level provider.
func SetLevel(level Level) { provider().SetLevel(level) }

// SetOutput redirects the package-level provider when it is a ZerologProvider.
func SetOutput(w io.Writer) {
	if zp, ok := provider().(*ZerologProvider); ok {
		zp.SetOutput(w)
	}
}

// SetupLogger configures the package-level provider and routes library
// warnings (clamped updates, convergence) through it.
func SetupLogger(level string, console bool) error {
	lv, err := ParseLevel(level)
	if err != nil {
		return err
	}
	var out io.Writer = os.Stderr
	if console {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}
	SetProvider(NewZerologProvider(out, lv))
	errors.SetZerologWarnFunc(func(w error) {
		if m, ok := w.(zerolog.LogObjectMarshaler); ok {
			GetLoggerWithName("warnings").Warn(w.Error(), "warning", m)
			return
		}
		GetLoggerWithName("warnings").Warn(w.Error())
	})
	return nil
}
