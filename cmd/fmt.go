package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/cristianradulescu/mdfence-ls/internal/config"
	"github.com/cristianradulescu/mdfence-ls/internal/container"
	"github.com/cristianradulescu/mdfence-ls/internal/formatter"
	"github.com/cristianradulescu/mdfence-ls/internal/formatting"
	"github.com/cristianradulescu/mdfence-ls/internal/logging"
	"github.com/cristianradulescu/mdfence-ls/internal/rewriter"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	reformattedColor = color.New(color.FgGreen)
	warningColor     = color.New(color.FgYellow)
	errorColor       = color.New(color.FgRed, color.Bold)
)

type fileResult struct {
	Path   string
	Result rewriter.Result
	Err    error
}

func newFmtCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fmt [flags] <path> [path...]",
		Short: "Format fenced code blocks in Markdown files",
		Long: `fmt rewrites the supported fenced code blocks of the given Markdown files.
Directories are walked for *.md and *.markdown files.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runFmt,
	}

	cmd.Flags().Bool("check", false, "report files that need formatting without rewriting them")
	cmd.Flags().Bool("stdout", false, "print formatted documents to stdout instead of rewriting files")
	cmd.Flags().String("config", "", "settings file (.json or .toml); defaults to the one in the current directory")
	cmd.Flags().Int("jobs", runtime.GOMAXPROCS(0), "number of files formatted in parallel")

	return cmd
}

func runFmt(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	check, err := cmd.Flags().GetBool("check")
	if err != nil {
		return err
	}
	writeToStdout, err := cmd.Flags().GetBool("stdout")
	if err != nil {
		return err
	}
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	jobs, err := cmd.Flags().GetInt("jobs")
	if err != nil {
		return err
	}
	debug, _ := cmd.Flags().GetBool("debug")

	if writeToStdout && check {
		return errors.New("fmt: --stdout cannot be used with --check")
	}

	logger := zap.NewNop()
	if debug {
		logger = logging.New(true).Named(logging.NameCLI)
	}

	settings, warnings, err := loadSettings(configPath)
	if err != nil {
		return err
	}
	for _, warning := range warnings {
		warningColor.Fprintf(cmd.ErrOrStderr(), "config: %v\n", warning)
	}

	files, err := collectMarkdownFiles(args)
	if err != nil {
		return err
	}

	registry := formatting.LoadFormatters(settings, container.NewShellRunner(logger), logger)
	docFormatter := formatter.NewFormatter(rewriter.New(registry,
		rewriter.WithObserver(rewriter.NewLogObserver(logger)),
		rewriter.WithJobs(jobs),
	))

	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	results := make([]fileResult, len(files))

	g, gctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(jobs)
	for i, path := range files {
		g.Go(func() error {
			result, err := docFormatter.FormatFile(gctx, path, settings, !check && !writeToStdout)
			results[i] = fileResult{Path: path, Result: result, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	hasErrors, hasChanges := renderResults(cmd.OutOrStdout(), cmd.ErrOrStderr(), results, check, writeToStdout)

	if hasErrors {
		return errors.New("fmt: failed to format some files")
	}
	if check && hasChanges {
		return errors.New("fmt: formatting changes required")
	}
	return nil
}

// loadSettings reads an explicit settings file, or the one in the working
// directory when configPath is empty. Only an explicit file is required.
func loadSettings(configPath string) (config.Settings, []error, error) {
	if configPath != "" {
		cfg, err := (&config.Config{}).LoadFile(configPath)
		if err != nil {
			return config.Settings{}, nil, fmt.Errorf("fmt: %w", err)
		}
		return cfg.Settings, cfg.Warnings, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return config.Defaults(), nil, nil
	}
	cfg, err := (&config.Config{}).LoadConfig(cwd)
	if err != nil && !errors.Is(err, config.ErrConfigNotFound) {
		return config.Settings{}, nil, fmt.Errorf("fmt: %w", err)
	}
	return cfg.Settings, cfg.Warnings, nil
}

func collectMarkdownFiles(paths []string) ([]string, error) {
	var files []string

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("fmt: %w", err)
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}

		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if p != path && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if isMarkdownFile(p) {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("fmt: %w", err)
		}
	}

	return files, nil
}

func isMarkdownFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".md" || ext == ".markdown"
}

func renderResults(stdout, stderr io.Writer, results []fileResult, check, writeToStdout bool) (hasErrors, hasChanges bool) {
	for _, res := range results {
		if res.Err != nil {
			hasErrors = true
			errorColor.Fprintf(stderr, "fmt: %s: %v\n", res.Path, res.Err)
			continue
		}

		for _, outcome := range res.Result.Failed() {
			warningColor.Fprintf(stderr, "%s: %v\n", res.Path, outcome.Err)
		}

		if writeToStdout {
			_, _ = io.WriteString(stdout, res.Result.Text)
			continue
		}

		if !res.Result.Changed {
			continue
		}
		hasChanges = true
		if check {
			fmt.Fprintln(stdout, res.Path)
		} else {
			reformattedColor.Fprintf(stdout, "reformatted %s\n", res.Path)
		}
	}

	return hasErrors, hasChanges
}
