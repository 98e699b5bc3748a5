// Package logging provides structured logging that mirrors the line format
// used by the gateway's original Python service
// (`%(asctime)s - %(name)s - %(levelname)s - %(message)s`), adapted to
// slog's attribute model:
//
//	<ISO8601_time> shuttle-gateway [<LEVEL>] <source>: <message>[ key=value ...]
//
// so existing log shippers built against the Python service keep working.
package logging

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"log/slog"
)

const serviceName = "shuttle-gateway"

// Config mirrors core/config.py's LoggingConfig (level + optional file path).
type Config struct {
	Level   slog.Level
	LogDir  string
	LogName string
}

// FlagPointers holds flag values to be converted to a Config after flag.Parse().
type FlagPointers struct {
	level   *string
	logDir  *string
	logName *string
}

// RegisterFlags registers logging flags the way the teacher's utils/redis
// package registers its own flags: raw pointers now, converted post-Parse.
func RegisterFlags() *FlagPointers {
	return &FlagPointers{
		level:   flag.String("log-level", "info", "log level (debug, info, warn, error)"),
		logDir:  flag.String("log-dir", "", "directory to write log files to"),
		logName: flag.String("log-name", "", "log file base name (defaults to service name)"),
	}
}

func (f *FlagPointers) ToConfig() Config {
	return Config{
		Level:   ParseLevel(*f.level),
		LogDir:  *f.logDir,
		LogName: *f.logName,
	}
}

// ParseLevel converts a level string (as accepted by core/config.py's
// LoggingConfig.level) to an slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "critical", "fatal":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ServiceHandler is an slog.Handler producing
// "<ISO8601> shuttle-gateway [<LEVEL>] <source>: <message> key=value ..." lines.
type ServiceHandler struct {
	level  slog.Level
	writer io.Writer
	mu     *sync.Mutex
	attrs  []slog.Attr
	groups []string
}

func NewServiceHandler(level slog.Level, writer io.Writer) *ServiceHandler {
	return &ServiceHandler{level: level, writer: writer, mu: &sync.Mutex{}}
}

func (h *ServiceHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *ServiceHandler) Handle(_ context.Context, r slog.Record) error {
	timeStr := r.Time.Format("2006-01-02T15:04:05.000-07:00")
	source := callerSource(r.PC)

	var parts []string
	for _, a := range h.resolveAttrs() {
		parts = append(parts, formatAttr(a))
	}
	r.Attrs(func(a slog.Attr) bool {
		parts = append(parts, formatAttr(a))
		return true
	})

	msg := r.Message
	if len(parts) > 0 {
		msg = msg + " " + strings.Join(parts, " ")
	}

	line := fmt.Sprintf("%s %s [%s] %s: %s\n", timeStr, serviceName, r.Level.String(), source, msg)

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.writer.Write([]byte(line))
	return err
}

func (h *ServiceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &ServiceHandler{level: h.level, writer: h.writer, mu: h.mu, attrs: newAttrs, groups: h.groups}
}

func (h *ServiceHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &ServiceHandler{level: h.level, writer: h.writer, mu: h.mu, attrs: h.attrs, groups: newGroups}
}

// Init wires up the default slog.Logger for process startup: stdout always,
// plus a per-process file under config.LogDir (named from LogName, the
// start time and the pid) when one is configured.
func Init(config Config) *slog.Logger {
	writers := []io.Writer{os.Stdout}

	if config.LogDir != "" {
		if err := os.MkdirAll(config.LogDir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create log directory %s: %v\n", config.LogDir, err)
		} else {
			name := config.LogName
			if name == "" {
				name = serviceName
			}
			ts := strings.ReplaceAll(time.Now().Format("2006-01-02T15-04-05"), ":", "-")
			path := filepath.Join(config.LogDir, fmt.Sprintf("%s_%s_%d.log", name, ts, os.Getpid()))
			file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", path, err)
			} else {
				writers = append(writers, file)
			}
		}
	}

	logger := slog.New(NewServiceHandler(config.Level, io.MultiWriter(writers...)))
	slog.SetDefault(logger)
	return logger
}

func callerSource(pc uintptr) string {
	if pc == 0 {
		return "unknown"
	}
	frames := runtime.CallersFrames([]uintptr{pc})
	f, _ := frames.Next()
	if f.Function == "" {
		return "unknown"
	}
	parts := strings.Split(f.Function, "/")
	last := parts[len(parts)-1]
	if idx := strings.Index(last, "."); idx >= 0 {
		return last[:idx]
	}
	return last
}

func (h *ServiceHandler) resolveAttrs() []slog.Attr {
	if len(h.groups) == 0 {
		return h.attrs
	}
	prefix := strings.Join(h.groups, ".") + "."
	out := make([]slog.Attr, len(h.attrs))
	for i, a := range h.attrs {
		out[i] = slog.Attr{Key: prefix + a.Key, Value: a.Value}
	}
	return out
}

func formatAttr(a slog.Attr) string {
	return fmt.Sprintf("%s=%s", a.Key, a.Value.String())
}
