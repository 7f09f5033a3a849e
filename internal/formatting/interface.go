package formatting

import "context"

// Language is a fence tag the registry knows how to format.
type Language string

const (
	LanguageJava       Language = "java"
	LanguageSQL        Language = "sql"
	LanguageJavaScript Language = "javascript"
)

// Languages lists every known language in a stable order.
var Languages = []Language{LanguageJava, LanguageSQL, LanguageJavaScript}

// Options carries the per-pass settings a formatter may need.
type Options struct {
	SQLDialect string
}

// Formatter turns the inner text of a fenced block into its formatted form.
type Formatter interface {
	// Id returns the unique identifier of the formatter
	Id() string

	// Name returns the human-readable name of the formatter
	Name() string

	// Format returns the complete formatted text of code. It fails with a
	// *FormatError instead of returning partial output.
	Format(ctx context.Context, code string, opts Options) (string, error)
}
