package formatting

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cristianradulescu/mdfence-ls/internal/config"
	"github.com/cristianradulescu/mdfence-ls/internal/container"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Registry maps languages to formatters. Adding a language is a Register call.
type Registry struct {
	mu         sync.RWMutex
	formatters map[Language]Formatter
}

func NewRegistry() *Registry {
	return &Registry{formatters: make(map[Language]Formatter)}
}

func (r *Registry) Register(lang Language, formatter Formatter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.formatters[Language(strings.ToLower(string(lang)))] = formatter
}

// Lookup finds the formatter for a fence language, case-insensitively.
func (r *Registry) Lookup(language string) (Formatter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	formatter, ok := r.formatters[Language(strings.ToLower(language))]
	return formatter, ok
}

// Languages returns the registered languages, sorted.
func (r *Registry) Languages() []Language {
	r.mu.RLock()
	defer r.mu.RUnlock()

	languages := make([]Language, 0, len(r.formatters))
	for lang := range r.formatters {
		languages = append(languages, lang)
	}
	sort.Slice(languages, func(i, j int) bool { return languages[i] < languages[j] })
	return languages
}

// NewFormatter creates the formatter for lang from the settings.
func NewFormatter(lang Language, settings config.Settings, runner container.CommandRunner, logger *zap.Logger) (Formatter, error) {
	switch lang {
	case LanguageSQL:
		return NewSQLFormatter(NewSQLEngine(settings.Formatters[string(LanguageSQL)], runner), logger), nil
	case LanguageJava:
		return NewJavaFormatter(settings.Formatters[string(LanguageJava)], runner), nil
	case LanguageJavaScript:
		return NewJavaScriptFormatter(settings.Formatters[string(LanguageJavaScript)], runner), nil
	default:
		return nil, fmt.Errorf("formatting not supported for language: %s", lang)
	}
}

// LoadFormatters builds a registry holding a formatter for every known language.
// Which blocks get formatted is decided per pass from SupportedLanguages.
func LoadFormatters(settings config.Settings, runner container.CommandRunner, logger *zap.Logger) *Registry {
	registry := NewRegistry()

	for _, lang := range Languages {
		formatter, err := NewFormatter(lang, settings, runner, logger)
		if err != nil {
			if logger != nil {
				logger.Warn("skipping formatter", zap.String("language", string(lang)), zap.Error(err))
			}
			continue
		}
		registry.Register(lang, formatter)
	}

	return registry
}

// ValidateFormatters checks the external command of every enabled language:
// the container must be running and the binary must resolve.
func ValidateFormatters(ctx context.Context, settings config.Settings, runner container.CommandRunner) error {
	var errs error
	for _, lang := range settings.SupportedLanguages {
		command, ok := settings.Formatters[lang]
		if !ok || command.Path == "" {
			continue
		}
		if err := container.ValidateContainer(ctx, command.Container); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to initialize %s formatter: %w", lang, err))
			continue
		}
		if err := container.ValidateBinary(ctx, runner, command.Container, command.Path); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to initialize %s formatter: %w", lang, err))
		}
	}
	return errs
}
