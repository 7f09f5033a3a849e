package formatting

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/cristianradulescu/mdfence-ls/internal/config"
	"github.com/cristianradulescu/mdfence-ls/internal/logging"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	SQLFormatterId   string = "sql"
	SQLFormatterName string = "SQL formatter"

	// statementSeparator joins formatted statements: two blank lines.
	statementSeparator = "\n\n\n"
)

// SQLFormatter formats a block statement by statement and keeps line
// comments out of the engine's reach.
type SQLFormatter struct {
	engine SQLEngine
	logger *zap.Logger
}

func NewSQLFormatter(engine SQLEngine, logger *zap.Logger) *SQLFormatter {
	return &SQLFormatter{
		engine: engine,
		logger: logging.OrNop(logger).Named(logging.NameFormatter),
	}
}

func (f *SQLFormatter) Id() string {
	return SQLFormatterId
}

func (f *SQLFormatter) Name() string {
	return SQLFormatterName
}

// Format formats each statement on its own. A statement that fails keeps its
// original text; the block only fails when every statement failed.
func (f *SQLFormatter) Format(ctx context.Context, code string, opts Options) (string, error) {
	dialect := opts.SQLDialect
	if dialect == "" {
		dialect = config.DefaultSQLDialect
	}

	statements := SplitStatements(code)
	if len(statements) == 0 {
		return "", nil
	}

	formatted := make([]string, 0, len(statements))
	var errs error
	failures := 0
	for i, statement := range statements {
		out, err := f.formatStatement(ctx, statement, dialect)
		if err != nil {
			failures++
			errs = multierr.Append(errs, fmt.Errorf("statement %d: %w", i+1, err))
			f.logger.Debug("keeping statement unformatted", zap.Int("statement", i+1), zap.Error(err))
			out = strings.TrimSpace(statement)
		}
		formatted = append(formatted, out)
	}

	if failures == len(statements) {
		return "", newFormatError(LanguageSQL, errs)
	}

	return strings.Join(formatted, statementSeparator), nil
}

func (f *SQLFormatter) formatStatement(ctx context.Context, statement string, dialect string) (string, error) {
	nonce, err := newNonce()
	if err != nil {
		return "", err
	}

	stripped, comments := protectComments(statement, nonce)

	out, err := f.engine.FormatStatement(ctx, stripped, dialect)
	if err != nil {
		return "", err
	}

	return restoreComments(strings.TrimSpace(out), comments)
}

// SplitStatements cuts code after every ";" that is followed by more
// non-whitespace text. Separators inside quotes or comments do not count.
// Empty pieces, blank or a bare ";", are dropped.
func SplitStatements(code string) []string {
	var statements []string
	start := 0

	scanSQL(code, func(i int) {
		if code[i] != ';' {
			return
		}
		if strings.TrimSpace(code[i+1:]) == "" {
			return
		}
		statements = append(statements, code[start:i+1])
		start = i + 1
	}, nil)
	statements = append(statements, code[start:])

	result := statements[:0]
	for _, statement := range statements {
		if trimmed := strings.TrimSpace(statement); trimmed != "" && trimmed != ";" {
			result = append(result, statement)
		}
	}
	return result
}

type lineComment struct {
	placeholder string
	text        string
	offset      int
}

// protectComments swaps every "--" line comment for an identifier-like
// placeholder made unique by nonce.
func protectComments(statement string, nonce string) (string, []lineComment) {
	var comments []lineComment
	scanSQL(statement, nil, func(start, end int) {
		comments = append(comments, lineComment{
			placeholder: fmt.Sprintf("__mdfence_%s_%d__", nonce, len(comments)),
			text:        statement[start:end],
			offset:      start,
		})
	})
	if len(comments) == 0 {
		return statement, nil
	}

	var sb strings.Builder
	last := 0
	for _, c := range comments {
		sb.WriteString(statement[last:c.offset])
		sb.WriteString(c.placeholder)
		last = c.offset + len(c.text)
	}
	sb.WriteString(statement[last:])

	return sb.String(), comments
}

// restoreComments puts the comments back. A comment must end its line, so
// anything the engine placed after a placeholder moves to the next line.
func restoreComments(formatted string, comments []lineComment) (string, error) {
	for _, c := range comments {
		idx := strings.Index(formatted, c.placeholder)
		if idx < 0 {
			return "", fmt.Errorf("comment %q lost by the formatter", c.text)
		}

		rest := formatted[idx+len(c.placeholder):]
		replacement := c.text
		if rest != "" && !strings.HasPrefix(rest, "\n") {
			replacement += "\n" + lineIndent(formatted[:idx])
			rest = strings.TrimLeft(rest, " \t")
		}

		formatted = formatted[:idx] + replacement + rest
	}
	return formatted, nil
}

func lineIndent(before string) string {
	line := before[strings.LastIndex(before, "\n")+1:]
	return line[:len(line)-len(strings.TrimLeft(line, " \t"))]
}

// scanSQL walks text outside string literals and comments. onChar gets the
// index of every such byte, onComment the bounds of each "--" line comment
// without its newline.
func scanSQL(text string, onChar func(i int), onComment func(start, end int)) {
	for i := 0; i < len(text); i++ {
		switch c := text[i]; {
		case c == '\'' || c == '"' || c == '`':
			i = skipQuoted(text, i, c)
		case c == '-' && i+1 < len(text) && text[i+1] == '-':
			end := strings.IndexByte(text[i:], '\n')
			if end < 0 {
				end = len(text)
			} else {
				end += i
			}
			if onComment != nil {
				onComment(i, end)
			}
			i = end - 1
		case c == '/' && i+1 < len(text) && text[i+1] == '*':
			end := strings.Index(text[i+2:], "*/")
			if end < 0 {
				return
			}
			i += end + 3
		default:
			if onChar != nil {
				onChar(i)
			}
		}
	}
}

// skipQuoted returns the index of the quote closing the literal opened at
// start. Doubled quotes are escapes. Unterminated literals run to the end.
func skipQuoted(text string, start int, quote byte) int {
	for i := start + 1; i < len(text); i++ {
		if text[i] != quote {
			continue
		}
		if i+1 < len(text) && text[i+1] == quote {
			i++
			continue
		}
		return i
	}
	return len(text) - 1
}

func newNonce() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("placeholder nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
