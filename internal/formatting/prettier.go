package formatting

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cristianradulescu/mdfence-ls/internal/config"
	"github.com/cristianradulescu/mdfence-ls/internal/container"
	"github.com/cristianradulescu/mdfence-ls/internal/syntax"
)

const (
	PrettierTabWidth   int = 4
	PrettierPrintWidth int = 120
)

// PrettierFormatter pipes a block through the prettier CLI. Source that does
// not parse is rejected before prettier runs.
type PrettierFormatter struct {
	lang      Language
	parser    string
	extension string
	command   config.FormatterCommand
	runner    container.CommandRunner
}

func NewJavaFormatter(command config.FormatterCommand, runner container.CommandRunner) *PrettierFormatter {
	return &PrettierFormatter{
		lang:      LanguageJava,
		parser:    "java",
		extension: "java",
		command:   command,
		runner:    runner,
	}
}

func NewJavaScriptFormatter(command config.FormatterCommand, runner container.CommandRunner) *PrettierFormatter {
	return &PrettierFormatter{
		lang:      LanguageJavaScript,
		parser:    "babel",
		extension: "js",
		command:   command,
		runner:    runner,
	}
}

func (f *PrettierFormatter) Id() string {
	return "prettier-" + f.parser
}

func (f *PrettierFormatter) Name() string {
	return fmt.Sprintf("Prettier (%s)", f.lang)
}

func (f *PrettierFormatter) Format(ctx context.Context, code string, opts Options) (string, error) {
	if strings.TrimSpace(code) == "" {
		return "", nil
	}

	if err := syntax.Check(ctx, syntax.Language(f.lang), []byte(code)); err != nil {
		var syntaxErr *syntax.Error
		if errors.As(err, &syntaxErr) {
			return "", newFormatError(f.lang, fmt.Errorf("%w: %w", ErrParse, err))
		}
		return "", newFormatError(f.lang, err)
	}

	if f.runner == nil {
		return "", newFormatError(f.lang, errors.New("no command runner"))
	}
	if strings.TrimSpace(f.command.Path) == "" {
		return "", newFormatError(f.lang, errors.New("prettier path is not configured"))
	}

	result := f.runner.Execute(ctx, f.command.Container, f.CommandLine(), code)
	if result.Err != nil {
		if strings.Contains(string(result.Stderr), "SyntaxError") {
			return "", newFormatError(f.lang, fmt.Errorf("%w: %w", ErrParse, result.Err))
		}
		return "", newFormatError(f.lang, result.Err)
	}

	out := string(result.Stdout)
	if strings.TrimSpace(out) == "" {
		return "", newFormatError(f.lang, errors.New("prettier returned no output"))
	}

	return out, nil
}

// CommandLine is the shell command the formatter runs, reading code on stdin.
func (f *PrettierFormatter) CommandLine() string {
	var sb strings.Builder
	sb.WriteString(f.command.Path)
	fmt.Fprintf(&sb, " --stdin-filepath block.%s", f.extension)
	fmt.Fprintf(&sb, " --parser %s", f.parser)
	fmt.Fprintf(&sb, " --tab-width %d", PrettierTabWidth)
	fmt.Fprintf(&sb, " --print-width %d", PrettierPrintWidth)
	for _, plugin := range f.command.Plugins {
		sb.WriteString(" --plugin ")
		sb.WriteString(shellQuote(plugin))
	}
	return sb.String()
}
