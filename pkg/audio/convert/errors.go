// ABOUTME: Error types for format conversion
// ABOUTME: Format negotiation failures are reported as *FormatError wrapping ErrFormatNegotiation
package convert

import (
	"errors"
	"fmt"

	"github.com/Resonate-Protocol/coview-go/pkg/audio"
)

// ErrFormatNegotiation marks a declared format that does not match the data
// or cannot be converted to the other side. Recover by re-preparing with
// corrected formats.
var ErrFormatNegotiation = errors.New("format negotiation failed")

// FormatError describes which side of a conversion failed negotiation
type FormatError struct {
	Side   string // "source" or "target"
	Format audio.Format
	Err    error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("convert: %s format %s: %v", e.Side, e.Format, e.Err)
}

// Unwrap exposes both ErrFormatNegotiation and the underlying cause
func (e *FormatError) Unwrap() []error {
	return []error{ErrFormatNegotiation, e.Err}
}

func formatError(side string, f audio.Format, err error) *FormatError {
	return &FormatError{Side: side, Format: f, Err: err}
}
