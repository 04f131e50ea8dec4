package internal

import (
	"context"
	"log/slog"
)

// Logger is an embeddable helper around an optional *slog.Logger that makes
// logging calls no-ops when unset, the same convention cb.ControlBlock and
// svc.Dispatcher use throughout this module.
type Logger struct {
	Log *slog.Logger
}

func (l *Logger) LogEnabled(lvl slog.Level) bool {
	return l.Log != nil && l.Log.Enabled(context.Background(), lvl)
}

func (l *Logger) Trace(msg string, attrs ...slog.Attr) { l.log(LevelTrace, msg, attrs) }
func (l *Logger) Debug(msg string, attrs ...slog.Attr) { l.log(slog.LevelDebug, msg, attrs) }
func (l *Logger) Info(msg string, attrs ...slog.Attr)  { l.log(slog.LevelInfo, msg, attrs) }
func (l *Logger) Warn(msg string, attrs ...slog.Attr)  { l.log(slog.LevelWarn, msg, attrs) }
func (l *Logger) Error(msg string, attrs ...slog.Attr) { l.log(slog.LevelError, msg, attrs) }

func (l *Logger) log(lvl slog.Level, msg string, attrs []slog.Attr) {
	if l.Log == nil {
		return
	}
	l.Log.LogAttrs(context.Background(), lvl, msg, attrs...)
}
