package dynamake

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// traceLevel and whyLevel extend zap's level set with two pseudo-levels the
// engine uses constantly: TRACE for per-invocation bookkeeping noise, WHY
// for the should_run_action decision reasons. Both sit below zap's own
// DebugLevel so "log_level: TRACE" shows everything.
const (
	traceLevel = zapcore.DebugLevel - 2
	whyLevel   = zapcore.DebugLevel - 1
)

// ParseLogLevel maps the core's string level names (including the two
// pseudo-levels) onto a zapcore.Level.
func ParseLogLevel(name string) zapcore.Level {
	switch strings.ToUpper(name) {
	case "TRACE":
		return traceLevel
	case "WHY":
		return whyLevel
	case "DEBUG":
		return zapcore.DebugLevel
	case "INFO":
		return zapcore.InfoLevel
	case "WARN", "WARNING":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	default:
		return zapcore.WarnLevel
	}
}

// NewLogger builds a zap.Logger configured for the core's console-style
// output, at the given minimum level.
func NewLogger(level zapcore.Level) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "t"
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// why logs a should_run_action / scheduler decision at the WHY pseudo-level.
func why(logger *zap.Logger, msg string, fields ...zap.Field) {
	if ce := logger.Check(whyLevel, msg); ce != nil {
		ce.Write(fields...)
	}
}

// trace logs fine-grained bookkeeping at the TRACE pseudo-level.
func trace(logger *zap.Logger, msg string, fields ...zap.Field) {
	if ce := logger.Check(traceLevel, msg); ce != nil {
		ce.Write(fields...)
	}
}

const ansiBold = "\x1b[1m"
const ansiReset = "\x1b[0m"

// emphasizeWords joins words into a command line, wrapping the words whose
// index is set in emphasized with bold ANSI escapes.
func emphasizeWords(words []string, emphasized map[int]bool) string {
	if len(emphasized) == 0 {
		return strings.Join(words, " ")
	}
	parts := make([]string, len(words))
	for i, w := range words {
		if emphasized[i] {
			parts[i] = ansiBold + w + ansiReset
		} else {
			parts[i] = w
		}
	}
	return strings.Join(parts, " ")
}
