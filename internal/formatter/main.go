package formatter

import (
	"context"
	"fmt"
	"os"

	"github.com/cristianradulescu/mdfence-ls/internal/config"
	"github.com/cristianradulescu/mdfence-ls/internal/rewriter"
	"github.com/cristianradulescu/mdfence-ls/internal/utils"
	"go.lsp.dev/protocol"
)

// DocumentFormatter runs one pass over a whole document.
type DocumentFormatter interface {
	FormatDocument(ctx context.Context, text string, settings config.Settings) rewriter.Result
}

type Formatter struct {
	rewriter DocumentFormatter
}

func NewFormatter(rw DocumentFormatter) *Formatter {
	return &Formatter{
		rewriter: rw,
	}
}

// Format returns a single edit replacing the whole document, or no edits when
// nothing changed. The pass result is returned for diagnostics.
func (f *Formatter) Format(ctx context.Context, content string, settings config.Settings) ([]protocol.TextEdit, rewriter.Result) {
	result := f.rewriter.FormatDocument(ctx, content, settings)
	if !result.Changed {
		return []protocol.TextEdit{}, result
	}

	return []protocol.TextEdit{
		{
			Range:   utils.FullDocumentRange(content),
			NewText: result.Text,
		},
	}, result
}

// FormatFile formats the file at filePath and writes it back when write is
// set and the content changed.
func (f *Formatter) FormatFile(ctx context.Context, filePath string, settings config.Settings, write bool) (rewriter.Result, error) {
	originalContent, err := os.ReadFile(filePath)
	if err != nil {
		return rewriter.Result{}, err
	}

	result := f.rewriter.FormatDocument(ctx, string(originalContent), settings)
	if !write || !result.Changed {
		return result, nil
	}

	info, err := os.Stat(filePath)
	if err != nil {
		return result, err
	}
	if err := os.WriteFile(filePath, []byte(result.Text), info.Mode().Perm()); err != nil {
		return result, fmt.Errorf("failed to write %s: %w", filePath, err)
	}

	return result, nil
}
