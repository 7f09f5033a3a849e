package diagnostics

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cristianradulescu/mdfence-ls/internal/blocks"
	"github.com/cristianradulescu/mdfence-ls/internal/config"
	"github.com/cristianradulescu/mdfence-ls/internal/formatting"
	"github.com/cristianradulescu/mdfence-ls/internal/rewriter"
	"github.com/cristianradulescu/mdfence-ls/internal/syntax"
	"github.com/cristianradulescu/mdfence-ls/internal/utils"
	"go.lsp.dev/protocol"
)

const (
	CodeParseError  = "parse-error"
	CodeFormatError = "format-error"
)

type DiagnosticsProvider interface {
	Id() string
	Name() string
	Analyze(text string, result rewriter.Result) []protocol.Diagnostic
}

// BlockDiagnostics reports the blocks a pass could not format.
type BlockDiagnostics struct{}

func NewBlockDiagnostics() *BlockDiagnostics {
	return &BlockDiagnostics{}
}

func (d *BlockDiagnostics) Id() string {
	return config.Name
}

func (d *BlockDiagnostics) Name() string {
	return "code block formatting"
}

// Analyze maps every failed block of result to a diagnostic. text must be
// the document the pass ran on.
func (d *BlockDiagnostics) Analyze(text string, result rewriter.Result) []protocol.Diagnostic {
	diagnostics := []protocol.Diagnostic{}

	for _, outcome := range result.Failed() {
		diagnostic := protocol.Diagnostic{
			Range: protocol.Range{
				Start: utils.OffsetToPosition(text, outcome.Block.Start),
				End:   utils.OffsetToPosition(text, outcome.Block.End),
			},
			Severity: protocol.DiagnosticSeverityError,
			Source:   d.Id(),
			Code:     CodeFormatError,
			Message:  fmt.Sprintf("%s block was not formatted: %v", outcome.Block.Language, outcome.Err),
		}

		if formatting.IsParseError(outcome.Err) {
			diagnostic.Severity = protocol.DiagnosticSeverityWarning
			diagnostic.Code = CodeParseError
		}

		var syntaxErr *syntax.Error
		if errors.As(outcome.Err, &syntaxErr) {
			pos := utils.OffsetToPosition(text, syntaxErrorOffset(outcome.Block, syntaxErr))
			diagnostic.Range = protocol.Range{Start: pos, End: pos}
		}

		diagnostics = append(diagnostics, diagnostic)
	}

	return diagnostics
}

// syntaxErrorOffset locates a syntax error inside the block's code in
// document coordinates, clamped to the block.
func syntaxErrorOffset(block blocks.Block, syntaxErr *syntax.Error) int {
	codeStart := block.Start + len(blocks.Fence) + len(block.Tag) + 1

	offset := 0
	for line := 1; line < syntaxErr.Line; line++ {
		next := strings.IndexByte(block.Code[offset:], '\n')
		if next < 0 {
			break
		}
		offset += next + 1
	}
	if syntaxErr.Column > 1 {
		offset += syntaxErr.Column - 1
	}
	if offset > len(block.Code) {
		offset = len(block.Code)
	}

	return codeStart + offset
}
