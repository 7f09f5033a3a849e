package formatting

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cristianradulescu/mdfence-ls/internal/config"
	"github.com/cristianradulescu/mdfence-ls/internal/container"
	"github.com/cristianradulescu/mdfence-ls/internal/sqlfmt"
)

// SQLEngine formats one SQL statement with no line comments in it.
type SQLEngine interface {
	FormatStatement(ctx context.Context, statement string, dialect string) (string, error)
}

// SQLEngineFunc adapts a function to SQLEngine.
type SQLEngineFunc func(ctx context.Context, statement string, dialect string) (string, error)

func (f SQLEngineFunc) FormatStatement(ctx context.Context, statement string, dialect string) (string, error) {
	return f(ctx, statement, dialect)
}

// NewSQLEngine picks the external sql-formatter command when a path is
// configured and the built-in engine otherwise.
func NewSQLEngine(command config.FormatterCommand, runner container.CommandRunner) SQLEngine {
	if strings.TrimSpace(command.Path) == "" || runner == nil {
		return BuiltinSQLEngine{}
	}
	return &CommandSQLEngine{command: command, runner: runner}
}

// BuiltinSQLEngine formats with sqlfmt: upper-case keywords, 4 space indent.
type BuiltinSQLEngine struct{}

func (BuiltinSQLEngine) FormatStatement(ctx context.Context, statement string, dialect string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	out, err := sqlfmt.Format(statement, sqlfmt.Options{
		Dialect:     dialect,
		TabWidth:    sqlfmt.DefaultTabWidth,
		KeywordCase: sqlfmt.KeywordCaseUpper,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrParse, err)
	}
	return out, nil
}

// sqlFormatterConfig is passed to the sql-formatter CLI as --config.
type sqlFormatterConfig struct {
	TabWidth            int    `json:"tabWidth"`
	KeywordCase         string `json:"keywordCase"`
	LinesBetweenQueries int    `json:"linesBetweenQueries"`
}

// CommandSQLEngine pipes a statement through the sql-formatter CLI.
type CommandSQLEngine struct {
	command config.FormatterCommand
	runner  container.CommandRunner
}

func (e *CommandSQLEngine) FormatStatement(ctx context.Context, statement string, dialect string) (string, error) {
	cmd, err := e.commandLine(dialect)
	if err != nil {
		return "", err
	}

	result := e.runner.Execute(ctx, e.command.Container, cmd, statement)
	if result.Err != nil {
		if strings.Contains(strings.ToLower(string(result.Stderr)), "parse error") {
			return "", fmt.Errorf("%w: %w", ErrParse, result.Err)
		}
		return "", result.Err
	}

	return string(result.Stdout), nil
}

func (e *CommandSQLEngine) commandLine(dialect string) (string, error) {
	cfg, err := json.Marshal(sqlFormatterConfig{
		TabWidth:            sqlfmt.DefaultTabWidth,
		KeywordCase:         "upper",
		LinesBetweenQueries: 2,
	})
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s --language %s --config %s",
		e.command.Path, shellQuote(dialect), shellQuote(string(cfg))), nil
}

// shellQuote wraps s in single quotes for sh -c.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
