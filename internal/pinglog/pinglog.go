// Package pinglog provides the leveled, structured logger used across
// PingFS: a small severity scale layered on top of log/slog, selectable
// text or JSON output, and optional file rotation via lumberjack.
package pinglog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity is PingFS's logging level. It maps onto slog.Level with extra
// room below slog.LevelDebug for TRACE, giving a five-level scale.
type Severity int

const (
	LevelTrace Severity = iota
	LevelDebug
	LevelInfo
	LevelWarning
	LevelError
	LevelOff
)

func (s Severity) slogLevel() slog.Level {
	switch s {
	case LevelTrace:
		return slog.LevelDebug - 4
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarning:
		return slog.LevelWarn
	case LevelOff:
		return slog.LevelError + 4
	default:
		return slog.LevelError
	}
}

func (s Severity) String() string {
	switch s {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	default:
		return "OFF"
	}
}

// ParseSeverity parses one of trace/debug/info/warning/error (any case)
// into a Severity, defaulting to LevelInfo on an unrecognised value.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(s) {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "warning", "warn":
		return LevelWarning
	case "error":
		return LevelError
	case "off":
		return LevelOff
	default:
		return LevelInfo
	}
}

// Config controls how the default logger is constructed.
type Config struct {
	// Format is either "text" or "json".
	Format string
	// Severity is the minimum level that will be emitted.
	Severity Severity
	// LogFile, if non-empty, routes output through a rotating
	// lumberjack.Logger instead of stderr.
	LogFile    string
	MaxSizeMB  int
	MaxBackups int
}

var (
	mu     sync.Mutex
	logger *slog.Logger
	level  = new(slog.LevelVar)
)

func init() {
	logger = slog.New(newHandler(os.Stderr, "text", level))
}

// Init (re)configures the process-wide default logger.
func Init(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	level.Set(cfg.Severity.slogLevel())

	var w io.Writer = os.Stderr
	if cfg.LogFile != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    maxOr(cfg.MaxSizeMB, 100),
			MaxBackups: maxOr(cfg.MaxBackups, 5),
			Compress:   true,
		}
	}

	format := cfg.Format
	if format == "" {
		format = "text"
	}

	logger = slog.New(newHandler(w, format, level))
}

func maxOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func newHandler(w io.Writer, format string, lv *slog.LevelVar) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: lv,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				a.Key = "severity"
				a.Value = slog.StringValue(severityName(a.Value.Any().(slog.Level)))
			}
			return a
		},
	}

	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func severityName(l slog.Level) string {
	switch {
	case l < slog.LevelDebug:
		return LevelTrace.String()
	case l < slog.LevelInfo:
		return LevelDebug.String()
	case l < slog.LevelWarn:
		return LevelInfo.String()
	case l < slog.LevelError:
		return LevelWarning.String()
	default:
		return LevelError.String()
	}
}

func current() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return logger
}

// Tracef, Debugf, Infof, Warnf and Errorf log a formatted message at
// the matching severity. Named *f for printf-style call sites even
// though slog itself is structured.
func Tracef(format string, v ...any) { log(LevelTrace, format, v...) }
func Debugf(format string, v ...any) { log(LevelDebug, format, v...) }
func Infof(format string, v ...any)  { log(LevelInfo, format, v...) }
func Warnf(format string, v ...any)  { log(LevelWarning, format, v...) }
func Errorf(format string, v ...any) { log(LevelError, format, v...) }

func log(sev Severity, format string, v ...any) {
	l := current()
	ctx := context.Background()
	msg := fmt.Sprintf(format, v...)
	l.Log(ctx, sev.slogLevel(), msg)
}

// With returns a child logger carrying the given key/value attributes,
// for call sites that want structured fields instead of a formatted
// string (e.g. block store listeners tagging every line with a block
// ID).
func With(args ...any) *slog.Logger {
	return current().With(args...)
}
