package rewriter

import (
	"github.com/cristianradulescu/mdfence-ls/internal/logging"
	"go.uber.org/zap"
)

// Observer is told about every pass. Calls happen on the goroutine running
// FormatDocument, in document order.
type Observer interface {
	PassStarted(blockCount int)
	BlockFormatted(outcome BlockOutcome)
	BlockFailed(outcome BlockOutcome)
	PassFinished(result Result)
}

// NopObserver ignores everything.
type NopObserver struct{}

func (NopObserver) PassStarted(int)             {}
func (NopObserver) BlockFormatted(BlockOutcome) {}
func (NopObserver) BlockFailed(BlockOutcome)    {}
func (NopObserver) PassFinished(Result)         {}

// LogObserver writes the pass events as structured logs.
type LogObserver struct {
	logger *zap.Logger
}

func NewLogObserver(logger *zap.Logger) *LogObserver {
	return &LogObserver{logger: logging.OrNop(logger).Named(logging.NameRewriter)}
}

func (o *LogObserver) PassStarted(blockCount int) {
	o.logger.Debug("pass started", zap.Int("blocks", blockCount))
}

func (o *LogObserver) BlockFormatted(outcome BlockOutcome) {
	o.logger.Debug("block formatted",
		zap.String("language", outcome.Block.Language),
		zap.Int("offset", outcome.Block.Start),
		zap.Bool("cached", outcome.Cached),
	)
}

func (o *LogObserver) BlockFailed(outcome BlockOutcome) {
	o.logger.Warn("block left unchanged",
		zap.String("language", outcome.Block.Language),
		zap.Int("offset", outcome.Block.Start),
		zap.Error(outcome.Err),
	)
}

func (o *LogObserver) PassFinished(result Result) {
	o.logger.Info("pass finished",
		zap.Bool("changed", result.Changed),
		zap.Int("formatted", result.Count(StatusFormatted)),
		zap.Int("unchanged", result.Count(StatusUnchanged)),
		zap.Int("skipped", result.Count(StatusSkipped)),
		zap.Int("failed", result.Count(StatusFailed)),
	)
}
