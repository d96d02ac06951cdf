// Package amilog provides structured logging for the debugger, built
// on the same zap-based wrapper shape used elsewhere in this codebase.
package amilog

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with the debugger's own field helpers.
type Logger struct {
	*zap.Logger
}

var (
	// L is the global logger instance.
	L    *Logger
	once sync.Once
)

// Init initializes the global logger. Safe to call multiple times; only
// the first call takes effect.
func Init(debug bool) {
	once.Do(func() {
		L = New(debug)
	})
}

// New creates a Logger. In debug mode it uses a development config with
// colorized levels; otherwise a production config at warn level, so a
// session run non-interactively doesn't spam stderr with protocol chatter.
func New(debug bool) *Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		logger = zap.NewNop()
	}
	return &Logger{Logger: logger}
}

// NewNop creates a no-op logger, for tests and library callers that
// haven't opted into logging.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// WithSession returns a logger with the session id field preset.
func (l *Logger) WithSession(id string) *Logger {
	return &Logger{Logger: l.Logger.With(zap.String("session", id))}
}

// Addr creates an address field, formatted as the debugger displays
// every other address in the transcript.
func Addr(addr uint32) zap.Field {
	return zap.String("addr", hexString(addr))
}

// Sym creates a symbol-name field.
func Sym(name string) zap.Field {
	return zap.String("sym", name)
}

// Cmd creates a protocol command field.
func Cmd(cmd string) zap.Field {
	return zap.String("cmd", cmd)
}

func hexString(v uint32) string {
	return "0x" + fmtHex(uint64(v), 8)
}

func fmtHex(v uint64, width int) string {
	const digits = "0123456789ABCDEF"
	buf := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		buf[i] = digits[v&0xf]
		v >>= 4
	}
	return string(buf)
}
