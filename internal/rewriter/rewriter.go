// Package rewriter runs one formatting pass over a Markdown document: every
// supported fenced block is formatted and substituted, everything else is
// kept byte for byte.
package rewriter

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/cristianradulescu/mdfence-ls/internal/blocks"
	"github.com/cristianradulescu/mdfence-ls/internal/config"
	"github.com/cristianradulescu/mdfence-ls/internal/formatting"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusSkipped   Status = "skipped"
	StatusFormatted Status = "formatted"
	StatusUnchanged Status = "unchanged"
	StatusFailed    Status = "failed"
)

// ErrBlockMoved is recorded when a block's text can no longer be found in
// the working copy.
var ErrBlockMoved = errors.New("block text not found in document")

// BlockOutcome is what happened to one block during a pass.
type BlockOutcome struct {
	Block       blocks.Block
	Status      Status
	Replacement string
	Err         error
	Cached      bool
}

type Result struct {
	Text     string
	Changed  bool
	Outcomes []BlockOutcome
}

// Err combines the errors of all failed blocks, nil when none failed.
func (r Result) Err() error {
	var errs []error
	for _, outcome := range r.Outcomes {
		if outcome.Status == StatusFailed {
			errs = append(errs, outcome.Err)
		}
	}
	return multierr.Combine(errs...)
}

func (r Result) Count(status Status) int {
	count := 0
	for _, outcome := range r.Outcomes {
		if outcome.Status == status {
			count++
		}
	}
	return count
}

func (r Result) Failed() []BlockOutcome {
	var failed []BlockOutcome
	for _, outcome := range r.Outcomes {
		if outcome.Status == StatusFailed {
			failed = append(failed, outcome)
		}
	}
	return failed
}

// Registry is the part of formatting.Registry a pass needs.
type Registry interface {
	Lookup(language string) (formatting.Formatter, bool)
}

type Rewriter struct {
	registry Registry
	observer Observer
	cache    *Cache
	jobs     int
}

type Option func(*Rewriter)

func WithObserver(observer Observer) Option {
	return func(r *Rewriter) {
		if observer != nil {
			r.observer = observer
		}
	}
}

// WithCache reuses outputs of earlier passes for identical blocks.
func WithCache(cache *Cache) Option {
	return func(r *Rewriter) { r.cache = cache }
}

// WithJobs bounds the number of blocks formatted at once. Zero or less means
// GOMAXPROCS.
func WithJobs(jobs int) Option {
	return func(r *Rewriter) { r.jobs = jobs }
}

func New(registry Registry, opts ...Option) *Rewriter {
	r := &Rewriter{
		registry: registry,
		observer: NopObserver{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.jobs <= 0 {
		r.jobs = runtime.GOMAXPROCS(0)
	}
	return r
}

// FormatDocument formats every supported block of text. Formatters may run
// in parallel; substitutions are applied one by one in document order. A
// failing block stays as it was and never stops the pass.
func (r *Rewriter) FormatDocument(ctx context.Context, text string, settings config.Settings) Result {
	found := blocks.Extract(text)
	r.observer.PassStarted(len(found))

	outcomes := make([]BlockOutcome, len(found))
	opts := formatting.Options{SQLDialect: settings.SQLDialect}

	// Goroutines write only their own index and always return nil so one
	// failure does not cancel the others.
	var g errgroup.Group
	g.SetLimit(r.jobs)

	for i, block := range found {
		outcomes[i] = BlockOutcome{Block: block, Status: StatusSkipped}

		if !settings.Supports(block.Language) {
			continue
		}
		formatter, ok := r.registry.Lookup(block.Language)
		if !ok {
			continue
		}
		// Blank bodies stay as written and never reach a formatter.
		if strings.TrimSpace(block.Code) == "" {
			outcomes[i].Status = StatusUnchanged
			continue
		}

		g.Go(func() error {
			outcomes[i] = r.formatBlock(ctx, formatter, block, opts)
			return nil
		})
	}
	_ = g.Wait()

	working := text
	cursor := 0
	for i := range outcomes {
		outcome := &outcomes[i]
		original := outcome.Block.Original

		idx := strings.Index(working[cursor:], original)
		if idx < 0 {
			if outcome.Status == StatusFormatted {
				outcome.Status = StatusFailed
				outcome.Err = fmt.Errorf("%s block at offset %d: %w", outcome.Block.Language, outcome.Block.Start, ErrBlockMoved)
				outcome.Replacement = ""
				r.observer.BlockFailed(*outcome)
			}
			continue
		}
		pos := cursor + idx

		switch outcome.Status {
		case StatusFormatted:
			if outcome.Replacement == original {
				outcome.Status = StatusUnchanged
				outcome.Replacement = ""
				cursor = pos + len(original)
				continue
			}
			working = working[:pos] + outcome.Replacement + working[pos+len(original):]
			cursor = pos + len(outcome.Replacement)
			r.observer.BlockFormatted(*outcome)
		case StatusFailed:
			cursor = pos + len(original)
			r.observer.BlockFailed(*outcome)
		default:
			cursor = pos + len(original)
		}
	}

	result := Result{
		Text:     working,
		Changed:  working != text,
		Outcomes: outcomes,
	}
	r.observer.PassFinished(result)

	return result
}

func (r *Rewriter) formatBlock(ctx context.Context, formatter formatting.Formatter, block blocks.Block, opts formatting.Options) BlockOutcome {
	outcome := BlockOutcome{Block: block}

	formatted, cached := "", false
	if r.cache != nil {
		formatted, cached = r.cache.Get(formatter.Id(), opts.SQLDialect, block.Code)
	}

	if !cached {
		out, err := formatter.Format(ctx, block.Code, opts)
		if err != nil {
			outcome.Status = StatusFailed
			outcome.Err = fmt.Errorf("%s block at offset %d: %w", block.Language, block.Start, err)
			return outcome
		}
		formatted = strings.TrimRight(out, "\r\n")
		if r.cache != nil {
			r.cache.Set(formatter.Id(), opts.SQLDialect, block.Code, formatted)
		}
	}

	outcome.Status = StatusFormatted
	outcome.Replacement = block.Rebuild(formatted)
	outcome.Cached = cached
	return outcome
}
