// Package logging builds the engine's single process-wide logger.
//
// spec.md §5 requires log formatting to be serialized by one mutex and to
// never allocate on the render hot path above WARN. slog.Logger already
// serializes each Handler.Handle call; the render loop upholds the
// allocation rule by gating any DEBUG/TRACE call behind Enabled() before
// building attributes, the same pattern the teacher applies with its
// conditional slog.Debug calls gated on cheap booleans
// (stream-capture/internal/rtsp/pipeline.go).
package logging

import (
	"log/slog"
	"os"

	"github.com/e7canasta/kmsplay/internal/config"
)

// New builds a text-handler logger writing to stderr at the level named by
// cfg.LogLevel. TRACE has no slog equivalent; it maps to a level below
// Debug so trace-only call sites can still be gated distinctly.
func New(level config.LogLevel) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: toSlogLevel(level),
	}))
}

// LevelTrace sits one step below slog.LevelDebug so TRACE-gated call sites
// can be enabled independently of DEBUG.
const LevelTrace = slog.Level(-8)

func toSlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogLevelError:
		return slog.LevelError
	case config.LogLevelWarn:
		return slog.LevelWarn
	case config.LogLevelInfo:
		return slog.LevelInfo
	case config.LogLevelDebug:
		return slog.LevelDebug
	case config.LogLevelTrace:
		return LevelTrace
	default:
		return slog.LevelInfo
	}
}
