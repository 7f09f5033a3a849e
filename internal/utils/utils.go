package utils

import (
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/cristianradulescu/mdfence-ls/internal/config"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

const fileURIPrefix = uri.FileScheme + "://"

// URIToPath turns a file URI into a local path. Anything else is returned as is.
func URIToPath(documentURI protocol.DocumentURI) string {
	raw := string(documentURI)
	if !strings.HasPrefix(raw, fileURIPrefix) {
		return raw
	}

	// Filename panics on URIs it cannot parse.
	path, ok := func() (path string, ok bool) {
		defer func() {
			if recover() != nil {
				ok = false
			}
		}()
		return uri.URI(raw).Filename(), true
	}()
	if !ok {
		return strings.TrimPrefix(raw, fileURIPrefix)
	}
	return path
}

func PathToURI(path string) protocol.DocumentURI {
	return protocol.DocumentURI(uri.File(path))
}

// Find the project root directory by looking for one of the config files
func FindProjectRoot(filePath string) string {
	dir := filepath.Dir(filePath)

	for {
		for _, name := range []string{config.ConfigFileName, config.TomlConfigFileName} {
			if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
				return dir
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			break
		}
		dir = parent
	}

	// If no config found, use the directory of the file
	return filepath.Dir(filePath)
}

func EnsureDiagnosticsArray(diagnostics []protocol.Diagnostic) []protocol.Diagnostic {
	if diagnostics == nil {
		return make([]protocol.Diagnostic, 0)
	}
	return diagnostics
}

// OffsetToPosition converts a byte offset in text to an LSP position.
// Characters are counted in UTF-16 code units. Offsets past the end are
// clamped.
func OffsetToPosition(text string, offset int) protocol.Position {
	if offset > len(text) {
		offset = len(text)
	}
	if offset < 0 {
		offset = 0
	}

	before := text[:offset]
	line := strings.Count(before, "\n")
	lineStart := strings.LastIndexByte(before, '\n') + 1

	character := 0
	for _, r := range before[lineStart:] {
		if r >= 0x10000 && utf8.ValidRune(r) {
			character += 2
		} else {
			character++
		}
	}

	return protocol.Position{Line: uint32(line), Character: uint32(character)}
}

// FullDocumentRange spans all of text.
func FullDocumentRange(text string) protocol.Range {
	return protocol.Range{
		Start: protocol.Position{Line: 0, Character: 0},
		End:   OffsetToPosition(text, len(text)),
	}
}
