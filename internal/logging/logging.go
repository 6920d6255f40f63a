// Package logging owns the process-wide slog logger: JSON events, a
// level that can change at runtime through the management API, and
// optional rotated file output.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	levelVar = new(slog.LevelVar)
	closer   io.Closer // Rotating file, when one is open
)

// Init installs the default logger. An empty filePath writes to
// stdout; otherwise output rotates through filePath under the given
// size and retention limits.
func Init(level, filePath string, maxSizeMB, maxBackups, maxAgeDays int) error {
	levelVar.Set(parseLevel(level))

	var w io.Writer = os.Stdout
	if filePath != "" {
		if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
			return err
		}
		lj := &lumberjack.Logger{
			Filename:   filePath,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			MaxAge:     maxAgeDays,
			Compress:   true,
			LocalTime:  true,
		}
		w = lj
		closer = lj
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: levelVar,
	})))
	return nil
}

// SetLevel adjusts the active level; unknown names fall back to info.
func SetLevel(level string) {
	levelVar.Set(parseLevel(level))
}

// Close releases the rotating log file when one is open.
func Close() error {
	if closer != nil {
		return closer.Close()
	}
	return nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// Event helpers: one named event plus a wide field map.
func Debug(msg string, fields map[string]any) { slog.Debug(msg, attrs(fields)...) }
func Info(msg string, fields map[string]any)  { slog.Info(msg, attrs(fields)...) }
func Warn(msg string, fields map[string]any)  { slog.Warn(msg, attrs(fields)...) }
func Error(msg string, fields map[string]any) { slog.Error(msg, attrs(fields)...) }

func attrs(m map[string]any) []any {
	if len(m) == 0 {
		return nil
	}
	out := make([]any, 0, len(m)*2)
	for k, v := range m {
		out = append(out, k, v)
	}
	return out
}
