package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/LeventeLantos/whatsapp-relay/internal/config"
)

func New(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
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

// waLogger adapts slog to the logger interface whatsmeow expects.
type waLogger struct {
	l   *slog.Logger
	min slog.Level
}

// WA returns a whatsmeow logger writing through l. Records below minLevel
// (DEBUG, INFO, WARN, ERROR) are dropped.
func WA(l *slog.Logger, module, minLevel string) waLog.Logger {
	return &waLogger{
		l:   l.With("module", module),
		min: parseLevel(minLevel),
	}
}

func (w *waLogger) log(level slog.Level, msg string, args []any) {
	if level < w.min {
		return
	}
	w.l.Log(context.Background(), level, fmt.Sprintf(msg, args...))
}

func (w *waLogger) Debugf(msg string, args ...any) { w.log(slog.LevelDebug, msg, args) }
func (w *waLogger) Infof(msg string, args ...any)  { w.log(slog.LevelInfo, msg, args) }
func (w *waLogger) Warnf(msg string, args ...any)  { w.log(slog.LevelWarn, msg, args) }
func (w *waLogger) Errorf(msg string, args ...any) { w.log(slog.LevelError, msg, args) }

func (w *waLogger) Sub(module string) waLog.Logger {
	return &waLogger{l: w.l.With("sub", module), min: w.min}
}
