package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger names, one per component.
const (
	NameLSP       = "lsp"
	NameMain      = "main"
	NameServer    = "server"
	NameRewriter  = "rewriter"
	NameFormatter = "formatter"
	NameContainer = "container"
	NameConfig    = "config"
	NameCLI       = "cli"
)

// New builds the process logger. Output always goes to stderr because stdout
// carries the LSP stream.
func New(debug bool) *zap.Logger {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.Lock(os.Stderr),
		zap.NewAtomicLevelAt(level),
	)

	return zap.New(core).Named(NameLSP)
}

// OrNop returns logger, or a no-op logger when logger is nil.
func OrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
