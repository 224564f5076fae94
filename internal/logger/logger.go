package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days

	// ManagerSink is the sink name of the orchestrator's own log.
	ManagerSink = "manager"
)

// Config describes where log sinks live and how they rotate.
// Every entity (manager, proxy, server1, server2) gets Dir/<name>.log.
// Rotation parameters follow lumberjack semantics.
type Config struct {
	Dir        string `mapstructure:"dir"`
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // text (default) or json for the console
	Color      bool   `mapstructure:"color"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// SinkPath returns the file path of the named sink, or "" when Dir is unset.
func (c Config) SinkPath(name string) string {
	if c.Dir == "" {
		return ""
	}
	return filepath.Join(c.Dir, fmt.Sprintf("%s.log", name))
}

// Sink returns an append-only rotating writer for the named entity.
// Without a Dir it discards everything.
func (c Config) Sink(name string) io.WriteCloser {
	p := c.SinkPath(name)
	if p == "" {
		return nopCloser{io.Discard}
	}
	_ = os.MkdirAll(c.Dir, 0o750)
	return &lj.Logger{
		Filename:   p,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// New builds the manager logger. Records go to console and, when file is
// non-nil, to file as plain text.
func New(c Config, console io.Writer, file io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(c.Level)}
	var handlers []slog.Handler
	if console != nil {
		switch {
		case strings.EqualFold(c.Format, "json"):
			handlers = append(handlers, slog.NewJSONHandler(console, opts))
		case c.Color:
			handlers = append(handlers, NewColorTextHandler(console, opts, true))
		default:
			handlers = append(handlers, slog.NewTextHandler(console, opts))
		}
	}
	if file != nil {
		handlers = append(handlers, slog.NewTextHandler(file, opts))
	}
	return slog.New(Fanout(handlers...))
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
