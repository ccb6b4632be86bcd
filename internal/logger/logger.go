// Package logger provides the process-wide structured logger used by every
// airplay subsystem. It wraps zerolog behind a small API so call sites read
// like slog-style key/value logging without depending on zerolog directly.
package logger

import (
	"errors"
	"flag"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Environment variable name for log level configuration.
const envLogLevel = "AIRPLAY_LOG_LEVEL"

var (
	mu     sync.RWMutex
	global *Logger

	initOnce sync.Once

	// Optional flag (users may pass -log.level=debug). If flags.Parse() hasn't
	// yet been called when Init is invoked, we still read the raw os.Args.
	flagLevel = flag.String("log.level", "", "log level (debug, info, warn, error)")
)

// Logger is a thin adapter over zerolog.Logger exposing slog-shaped methods
// (message plus alternating key/value pairs) so call sites elsewhere in the
// codebase don't need to depend on zerolog directly.
type Logger struct{ z zerolog.Logger }

// Init initializes the global logger. Safe to call multiple times; the first
// call wins except SetLevel/UseWriter, which mutate state intentionally.
func Init() {
	initOnce.Do(func() {
		zerolog.TimeFieldFormat = time.RFC3339
		zerolog.TimestampFieldName = "timestamp"
		zerolog.SetGlobalLevel(detectLevel())
		mu.Lock()
		global = &Logger{z: zerolog.New(os.Stdout).With().Timestamp().Logger()}
		mu.Unlock()
	})
}

// detectLevel resolves the initial log level from (precedence high→low):
//  1. command-line flag -log.level
//  2. environment variable AIRPLAY_LOG_LEVEL
//  3. default (info)
func detectLevel() zerolog.Level {
	if *flagLevel == "" {
		for _, arg := range os.Args[1:] {
			if strings.HasPrefix(arg, "-log.level=") {
				parts := strings.SplitN(arg, "=", 2)
				if len(parts) == 2 {
					*flagLevel = parts[1]
				}
			}
		}
	}
	if lvl, ok := parseLevel(strings.TrimSpace(*flagLevel)); ok {
		return lvl
	}
	if env := os.Getenv(envLogLevel); env != "" {
		if lvl, ok := parseLevel(env); ok {
			return lvl
		}
	}
	return zerolog.InfoLevel
}

func parseLevel(s string) (zerolog.Level, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "debug":
		return zerolog.DebugLevel, true
	case "info", "":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error", "err":
		return zerolog.ErrorLevel, true
	}
	return 0, false
}

// SetLevel changes the runtime log level.
func SetLevel(level string) error {
	Init()
	lvl, ok := parseLevel(level)
	if !ok {
		return errors.New("invalid log level: " + level)
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}

// Level returns the current runtime level as a string.
func Level() string {
	Init()
	return strings.ToUpper(zerolog.GlobalLevel().String())
}

// UseWriter swaps the output writer (intended for tests). Retains the level.
func UseWriter(w io.Writer) {
	Init()
	mu.Lock()
	global = &Logger{z: zerolog.New(w).With().Timestamp().Logger()}
	mu.Unlock()
}

// Logger returns the global logger (ensures Init was called).
func Logger() *Logger {
	Init()
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// With returns a child logger annotated with the given alternating
// key/value pairs.
func (l *Logger) With(kv ...any) *Logger {
	if l == nil {
		return Logger().With(kv...)
	}
	ctx := applyFields(l.z.With(), kv)
	return &Logger{z: ctx.Logger()}
}

func (l *Logger) Debug(msg string, kv ...any) { l.log(zerolog.DebugLevel, msg, kv) }
func (l *Logger) Info(msg string, kv ...any)  { l.log(zerolog.InfoLevel, msg, kv) }
func (l *Logger) Warn(msg string, kv ...any)  { l.log(zerolog.WarnLevel, msg, kv) }
func (l *Logger) Error(msg string, kv ...any) { l.log(zerolog.ErrorLevel, msg, kv) }

func (l *Logger) log(level zerolog.Level, msg string, kv []any) {
	if l == nil {
		l = Logger()
	}
	ev := l.z.WithLevel(level)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, kv[i+1])
	}
	ev.Msg(msg)
}

func applyFields(ctx zerolog.Context, kv []any) zerolog.Context {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		ctx = ctx.Interface(key, kv[i+1])
	}
	return ctx
}

// Convenience top-level logging functions.
func Debug(msg string, kv ...any) { Logger().Debug(msg, kv...) }
func Info(msg string, kv ...any)  { Logger().Info(msg, kv...) }
func Warn(msg string, kv ...any)  { Logger().Warn(msg, kv...) }
func Error(msg string, kv ...any) { Logger().Error(msg, kv...) }

// WithConn attaches connection identity fields.
func WithConn(l *Logger, connID, peerAddr string) *Logger {
	return l.With("conn_id", connID, "peer_addr", peerAddr)
}

// WithPlayback attaches playback/session identity fields.
func WithPlayback(l *Logger, appleSessionID, playbackUUID string) *Logger {
	return l.With("apple_session_id", appleSessionID, "playback_uuid", playbackUUID)
}

// WithRoute attaches HTTP route metadata fields.
func WithRoute(l *Logger, method, path string) *Logger {
	return l.With("method", method, "path", path)
}
