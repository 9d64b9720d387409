// Package observability adapts zerolog, Prometheus and OpenTelemetry to the
// logging, metrics and tracing interfaces of the orchestration core.
package observability

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"paramflow/internal/config"
	"paramflow/internal/core"
)

// Logger wraps a zerolog.Logger as a core.Logger.
type Logger struct {
	zl zerolog.Logger
}

var _ core.Logger = (*Logger)(nil)

// NewLogger builds a logger writing to w (stderr when nil) in the configured
// format and level.
func NewLogger(cfg config.Log, w io.Writer) (*Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	level := zerolog.InfoLevel
	if strings.TrimSpace(cfg.Level) != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}
	out := w
	if !strings.EqualFold(cfg.Format, "json") {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: true}
	}
	zl := zerolog.New(out).Level(level).With().Timestamp().Str("app", "paramflow").Logger()
	return &Logger{zl: zl}, nil
}

// Zerolog exposes the underlying logger.
func (l *Logger) Zerolog() zerolog.Logger { return l.zl }

func (l *Logger) Debug(msg string, args ...any) { l.emit(l.zl.Debug(), msg, args) }
func (l *Logger) Info(msg string, args ...any)  { l.emit(l.zl.Info(), msg, args) }
func (l *Logger) Warn(msg string, args ...any)  { l.emit(l.zl.Warn(), msg, args) }
func (l *Logger) Error(msg string, args ...any) { l.emit(l.zl.Error(), msg, args) }

// emit turns alternating key/value args into fields. A trailing key without
// a value is logged under "!BADKEY".
func (l *Logger) emit(ev *zerolog.Event, msg string, args []any) {
	if ev == nil {
		return
	}
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			ev = ev.Interface("!BADKEY", args[i])
			break
		}
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		switch v := args[i+1].(type) {
		case error:
			ev = ev.AnErr(key, v)
		case string:
			ev = ev.Str(key, v)
		case int:
			ev = ev.Int(key, v)
		case bool:
			ev = ev.Bool(key, v)
		case time.Duration:
			ev = ev.Dur(key, v)
		default:
			ev = ev.Interface(key, v)
		}
	}
	ev.Msg(msg)
}
