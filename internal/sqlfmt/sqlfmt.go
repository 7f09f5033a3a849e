// Package sqlfmt lays out a single SQL statement: keyword case, one clause per
// line, indented clause bodies. It relies on chroma's SQL lexers for tokens and
// does not try to understand the grammar.
package sqlfmt

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
)

// ErrSyntax marks input the engine refuses to lay out.
var ErrSyntax = errors.New("sql syntax error")

type KeywordCase int

const (
	KeywordCaseUpper KeywordCase = iota
	KeywordCaseLower
	KeywordCasePreserve
)

const DefaultTabWidth = 4

type Options struct {
	// Dialect selects the lexer, see LexerFor.
	Dialect     string
	TabWidth    int
	KeywordCase KeywordCase
}

// dialectLexers maps dialect identifiers to chroma lexer names. Dialects
// missing here use the generic SQL lexer.
var dialectLexers = map[string]string{
	"mysql":         "mysql",
	"mariadb":       "mysql",
	"tidb":          "mysql",
	"singlestoredb": "mysql",
	"postgresql":    "postgresql",
	"redshift":      "postgresql",
	"transactsql":   "tsql",
	"plsql":         "plsql",
}

// bracketIdentifiers lists dialects where [name] quotes an identifier.
var bracketIdentifiers = map[string]bool{
	"transactsql": true,
	"sqlite":      true,
}

// backslashEscapes lists dialects where a backslash escapes a quote inside
// a string literal.
var backslashEscapes = map[string]bool{
	"mysql":         true,
	"mariadb":       true,
	"tidb":          true,
	"singlestoredb": true,
	"bigquery":      true,
	"hive":          true,
	"spark":         true,
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

// LexerFor returns the lexer used for dialect.
func LexerFor(dialect string) chroma.Lexer {
	if name, ok := dialectLexers[dialect]; ok {
		if lexer := lexers.Get(name); lexer != nil {
			return lexer
		}
	}
	if lexer := lexers.Get("sql"); lexer != nil {
		return lexer
	}
	return lexers.Fallback
}

type itemKind int

const (
	kindWord itemKind = iota
	kindLiteral
	kindLineComment
	kindComma
	kindSemicolon
	kindOpen
	kindClose
	kindDot
	kindOperator
)

type item struct {
	kind  itemKind
	text  string
	upper string
	// spaceBefore records whitespace between this item and the previous one
	// in the source.
	spaceBefore bool
}

// Format lays out one statement. Surrounding whitespace is dropped.
func Format(statement string, opts Options) (string, error) {
	if strings.TrimSpace(statement) == "" {
		return "", nil
	}
	if opts.TabWidth <= 0 {
		opts.TabWidth = DefaultTabWidth
	}

	items, err := tokenize(statement, opts.Dialect)
	if err != nil {
		return "", err
	}
	if err := checkParens(items); err != nil {
		return "", err
	}

	for i := range items {
		if items[i].kind == kindWord && isKeyword(items[i].upper) {
			switch opts.KeywordCase {
			case KeywordCaseUpper:
				items[i].text = items[i].upper
			case KeywordCaseLower:
				items[i].text = strings.ToLower(items[i].text)
			}
		}
	}

	return layout(items, strings.Repeat(" ", opts.TabWidth)), nil
}

// tokenize turns statement into items. Comments, string literals and quoted
// identifiers become single items holding their source text unchanged.
func tokenize(statement string, dialect string) ([]item, error) {
	// chroma applies the same newline normalisation, so token offsets line up
	// with source.
	source := strings.ReplaceAll(statement, "\r\n", "\n")
	source = strings.ReplaceAll(source, "\r", "\n")

	iterator, err := LexerFor(dialect).Tokenise(nil, source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	tokens := iterator.Tokens()

	var items []item
	offset := 0
	gap := false
	prevString := false
	for i := 0; i < len(tokens); i++ {
		token := tokens[i]
		value := token.Value
		start := offset
		offset += len(value)
		isString := token.Type.InCategory(chroma.LiteralString)

		end, verbatim, err := verbatimEnd(source, start, value, token.Type, dialect)
		if err != nil {
			return nil, err
		}
		if verbatim {
			for offset < end && i+1 < len(tokens) {
				i++
				offset += len(tokens[i].Value)
			}
			if offset < end || !isBlank(source, end, offset) {
				return nil, fmt.Errorf("%w: cannot delimit %q near offset %d", ErrSyntax, source[start:end], start)
			}

			text := strings.TrimRight(source[start:end], " \t")
			kind := kindLiteral
			if isLineComment(text) {
				kind = kindLineComment
			}
			items = append(items, item{kind: kind, text: text, spaceBefore: gap})
			gap = offset > end
			prevString = false
			continue
		}

		switch {
		case token.Type == chroma.Error:
			return nil, fmt.Errorf("%w: unexpected %q near offset %d", ErrSyntax, value, start)
		case isString && prevString && !gap:
			// Some lexers emit one literal as several string tokens.
			items[len(items)-1].text += value
		case isString:
			items = append(items, item{kind: kindLiteral, text: value, spaceBefore: gap})
		case token.Type.InCategory(chroma.Comment):
			text := strings.TrimRight(value, " \t\r\n")
			kind := kindLiteral
			if isLineComment(text) {
				kind = kindLineComment
			}
			items = append(items, item{kind: kind, text: text, spaceBefore: gap})
			prevString = false
			gap = text != value
			continue
		case strings.TrimSpace(value) == "":
			gap = true
			prevString = false
			continue
		default:
			if strings.TrimLeft(value, " \t\n") != value {
				gap = true
			}
			for j, field := range strings.Fields(value) {
				for k, it := range splitPunctuation(field) {
					it.spaceBefore = (j > 0 && k == 0) || (j == 0 && k == 0 && gap)
					items = appendItem(items, it)
				}
			}
			prevString = false
			gap = strings.TrimRight(value, " \t\n") != value
			continue
		}

		prevString = isString
		gap = false
	}

	for i := range items {
		if items[i].kind == kindWord {
			items[i].upper = strings.ToUpper(items[i].text)
		}
	}

	return items, nil
}

// appendItem adds it to items, joining operator characters that touch in the
// source (">" "=" is ">=").
func appendItem(items []item, it item) []item {
	if n := len(items); n > 0 && it.kind == kindOperator && !it.spaceBefore && items[n-1].kind == kindOperator {
		items[n-1].text += it.text
		return items
	}
	return append(items, it)
}

// verbatimEnd reports whether the token at source[start:] opens a comment, a
// string literal or a quoted identifier, and where that run ends. An
// unterminated run is a syntax error.
func verbatimEnd(source string, start int, value string, tokenType chroma.TokenType, dialect string) (int, bool, error) {
	if start >= len(source) {
		return 0, false, nil
	}
	rest := source[start:]

	switch {
	case strings.HasPrefix(rest, "--"):
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			return start + nl, true, nil
		}
		return len(source), true, nil
	case strings.HasPrefix(rest, "/*"):
		closing := strings.Index(rest[2:], "*/")
		if closing < 0 {
			return 0, false, fmt.Errorf("%w: unterminated comment near offset %d", ErrSyntax, start)
		}
		return start + 2 + closing + 2, true, nil
	}

	quote := quoteOffset(value, tokenType, dialect)
	if quote < 0 {
		return 0, false, nil
	}
	end, ok := closeQuote(source, start+quote, dialect)
	if !ok {
		return 0, false, fmt.Errorf("%w: unterminated %c near offset %d", ErrSyntax, source[start+quote], start)
	}
	return end, true, nil
}

// quoteOffset returns the index of the opening quote in value, or -1. String
// tokens may carry a prefix such as N'..' or E'..'.
func quoteOffset(value string, tokenType chroma.TokenType, dialect string) int {
	if value == "" {
		return -1
	}
	if isQuote(value[0], dialect) {
		return 0
	}
	if !tokenType.InCategory(chroma.LiteralString) {
		return -1
	}
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch {
		case c == '\'' || c == '"':
			return i
		case (c < 'a' || c > 'z') && (c < 'A' || c > 'Z'):
			return -1
		}
	}
	return -1
}

func isQuote(c byte, dialect string) bool {
	switch c {
	case '\'', '"', '`':
		return true
	case '[':
		return bracketIdentifiers[dialect]
	}
	return false
}

// closeQuote returns the index just past the quote closing the one at open.
// Doubled quotes are escapes.
func closeQuote(source string, open int, dialect string) (int, bool) {
	quote := source[open]
	closing := quote
	if quote == '[' {
		closing = ']'
	}
	backslash := backslashEscapes[dialect] && (quote == '\'' || quote == '"')

	for i := open + 1; i < len(source); i++ {
		switch source[i] {
		case '\\':
			if backslash {
				i++
			}
		case closing:
			if i+1 < len(source) && source[i+1] == closing {
				i++
				continue
			}
			return i + 1, true
		}
	}
	return 0, false
}

// isBlank reports whether source[from:to] holds only whitespace. The lexer
// may read one newline past the end of source.
func isBlank(source string, from, to int) bool {
	to = min(to, len(source))
	return from >= to || strings.TrimSpace(source[from:to]) == ""
}

func isLineComment(text string) bool {
	return strings.HasPrefix(text, "--") || strings.HasPrefix(text, "#")
}

func splitPunctuation(value string) []item {
	switch value {
	case ",":
		return []item{{kind: kindComma, text: value}}
	case ";":
		return []item{{kind: kindSemicolon, text: value}}
	case "(":
		return []item{{kind: kindOpen, text: value}}
	case ")":
		return []item{{kind: kindClose, text: value}}
	case ".":
		return []item{{kind: kindDot, text: value}}
	}

	if identifierPattern.MatchString(value) || isNumber(value) {
		return []item{{kind: kindWord, text: value}}
	}

	// Runs of punctuation ("),", "();") come from lexers that group them.
	if strings.ContainsAny(value, ",;().") && len(value) > 1 && strings.Trim(value, ",;().") == "" {
		var result []item
		for _, r := range value {
			result = append(result, splitPunctuation(string(r))...)
		}
		return result
	}

	return []item{{kind: kindOperator, text: value}}
}

func isNumber(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if (r < '0' || r > '9') && r != '.' && r != 'e' && r != 'E' && r != 'x' && r != 'X' && !(r >= 'a' && r <= 'f') && !(r >= 'A' && r <= 'F') {
			return false
		}
	}
	return value[0] >= '0' && value[0] <= '9'
}

func checkParens(items []item) error {
	depth := 0
	for _, it := range items {
		switch it.kind {
		case kindOpen:
			depth++
		case kindClose:
			depth--
			if depth < 0 {
				return fmt.Errorf("%w: unexpected closing parenthesis", ErrSyntax)
			}
		}
	}
	if depth != 0 {
		return fmt.Errorf("%w: %d unclosed parenthesis", ErrSyntax, depth)
	}
	return nil
}
