// Package syntax checks source text with tree-sitter grammars before it is
// handed to an external formatter.
//
// Parsers are created per call: tree-sitter parsers are not safe for
// concurrent use and blocks may be checked in parallel.
package syntax

import (
	"context"
	"fmt"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
)

// MaxTreeDepth bounds the search for error nodes.
const MaxTreeDepth = 1000

type Language string

const (
	LanguageJava       Language = "java"
	LanguageJavaScript Language = "javascript"
)

var (
	javaLang *sitter.Language
	jsLang   *sitter.Language

	langOnce sync.Once
)

func initLanguages() {
	langOnce.Do(func() {
		javaLang = java.GetLanguage()
		jsLang = javascript.GetLanguage()
	})
}

// Error points at the first broken node, 1-based.
type Error struct {
	Language Language
	Line     int
	Column   int
	Missing  bool
}

func (e *Error) Error() string {
	kind := "syntax error"
	if e.Missing {
		kind = "missing token"
	}
	return fmt.Sprintf("%s %s at line %d, column %d", e.Language, kind, e.Line, e.Column)
}

// Supported reports whether Check knows lang.
func Supported(lang Language) bool {
	return grammar(lang) != nil
}

func grammar(lang Language) *sitter.Language {
	initLanguages()
	switch lang {
	case LanguageJava:
		return javaLang
	case LanguageJavaScript:
		return jsLang
	default:
		return nil
	}
}

// Check parses source and returns a *Error for the first ERROR or MISSING
// node. Languages without a grammar always pass.
func Check(ctx context.Context, lang Language, source []byte) error {
	language := grammar(lang)
	if language == nil {
		return nil
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(language)

	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return fmt.Errorf("parse %s failed: %w", lang, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if !root.HasError() {
		return nil
	}

	if node := firstErrorNode(root, 0); node != nil {
		point := node.StartPoint()
		return &Error{
			Language: lang,
			Line:     int(point.Row) + 1,
			Column:   int(point.Column) + 1,
			Missing:  node.IsMissing(),
		}
	}

	return &Error{Language: lang, Line: 1, Column: 1}
}

func firstErrorNode(node *sitter.Node, depth int) *sitter.Node {
	if node == nil || depth > MaxTreeDepth {
		return nil
	}
	if node.IsError() || node.IsMissing() {
		return node
	}
	if !node.HasError() {
		return nil
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if found := firstErrorNode(node.Child(i), depth+1); found != nil {
			return found
		}
	}
	return nil
}
