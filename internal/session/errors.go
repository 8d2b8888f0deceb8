// internal/session/errors.go
package session

import (
	"errors"
	"fmt"
	"time"
)

// ErrFrameTooLarge is returned by Capture when both the frame content area
// and the viewport exceed the render safety ceiling.
var ErrFrameTooLarge = errors.New("frame render area exceeds the safety ceiling")

// TimeoutError is returned when a wait's condition never became true within
// its deadline. Message describes what was being waited for.
type TimeoutError struct {
	Message string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %s: %s", e.Timeout, e.Message)
}

// ConfigurationError signals a caller or script mistake: a dialog fired with
// no registered expectation, an invalid proxy type, an invalid HTTP method,
// or an unsupported cookie-storage argument. These are never retried.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// ElementNotFoundError is returned when a selector resolves to no usable
// element for a click, fill, or field-set operation.
type ElementNotFoundError struct {
	Selector string
	Context  string
}

func (e *ElementNotFoundError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("can't find %s for %q", e.Context, e.Selector)
	}
	return fmt.Sprintf("can't find element for %q", e.Selector)
}

// UnsupportedOperationError is returned when the field setter has no dispatch
// entry for an element's tag/type combination.
type UnsupportedOperationError struct {
	Tag  string
	Type string
}

func (e *UnsupportedOperationError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("unsupported field tag %q with type %q", e.Tag, e.Type)
	}
	return fmt.Sprintf("unsupported field tag %q", e.Tag)
}
