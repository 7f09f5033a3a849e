package formatting

import (
	"errors"
	"fmt"
)

// ErrParse means the input does not parse in the formatter's grammar.
var ErrParse = errors.New("parse error")

// FormatError is the only error a Formatter returns.
type FormatError struct {
	Language Language
	Cause    error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("format %s: %v", e.Language, e.Cause)
}

func (e *FormatError) Unwrap() error {
	return e.Cause
}

func newFormatError(lang Language, cause error) *FormatError {
	var formatErr *FormatError
	if errors.As(cause, &formatErr) {
		return formatErr
	}
	return &FormatError{Language: lang, Cause: cause}
}

// IsParseError reports whether err comes from unparsable input.
func IsParseError(err error) bool {
	return errors.Is(err, ErrParse)
}
