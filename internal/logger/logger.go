// Package logger is the process-wide logging facade. Everything funnels
// through one slog text handler so replay runs and the live loop produce
// the same line shape.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var (
	levelVar slog.LevelVar
	current  atomic.Pointer[slog.Logger]
)

func init() {
	levelVar.Set(slog.LevelInfo)
	current.Store(newLogger(os.Stdout))
}

func newLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: &levelVar}))
}

// SetOutput redirects all subsequent log lines to w. Lines already being
// written keep their previous destination.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	current.Store(newLogger(w))
}

// SetLevel applies a config-file level name. Unknown names fall back to info
// rather than failing startup over a typo.
func SetLevel(name string) {
	levelVar.Set(parseLevel(name))
}

func parseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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

func Debugf(format string, v ...any) { current.Load().Debug(fmt.Sprintf(format, v...)) }
func Infof(format string, v ...any)  { current.Load().Info(fmt.Sprintf(format, v...)) }
func Warnf(format string, v ...any)  { current.Load().Warn(fmt.Sprintf(format, v...)) }
func Errorf(format string, v ...any) { current.Load().Error(fmt.Sprintf(format, v...)) }
