// Package errs classifies engine errors into the taxonomy used for
// teardown decisions: configuration and display errors are fatal at
// start-up, decode errors are locally recoverable up to a threshold,
// resource errors are always fatal, and external-hook errors are never
// fatal.
package errs

import (
	"errors"
	"fmt"
)

// Category identifies which teardown policy an error carries.
type Category int

const (
	// CategoryUnknown is the zero value; classifiers should never return it
	// for an error they recognize.
	CategoryUnknown Category = iota
	// CategoryConfiguration covers bad paths, impossible dimensions, and
	// other start-up validation failures. Always fatal at start-up.
	CategoryConfiguration
	// CategoryDisplay covers CRTC acquisition, mode-set, and page-flip
	// failures. Fatal at start-up; fatal-with-restore at runtime.
	CategoryDisplay
	// CategoryDecodeTransient covers a hardware glitch or a single bad
	// frame. Counted; triggers software fallback after a threshold.
	CategoryDecodeTransient
	// CategoryDecodeFatal covers an unrecoverable codec error. The owning
	// stream enters broken; the process exits only if every stream is
	// broken.
	CategoryDecodeFatal
	// CategoryResource covers a refused allocation. Always fatal; the
	// engine never shrinks and retries on the hot path.
	CategoryResource
	// CategoryExternal covers an overlay hook panic or error return.
	// Logged and skipped for that frame; never fatal.
	CategoryExternal
)

// String renders the category the way it appears in log fields.
func (c Category) String() string {
	switch c {
	case CategoryConfiguration:
		return "configuration"
	case CategoryDisplay:
		return "display"
	case CategoryDecodeTransient:
		return "decode_transient"
	case CategoryDecodeFatal:
		return "decode_fatal"
	case CategoryResource:
		return "resource"
	case CategoryExternal:
		return "external"
	default:
		return "unknown"
	}
}

// Categorized is implemented by engine errors that carry a taxonomy
// category. Plain errors returned from third-party libraries do not
// implement it; callers fall back to CategoryUnknown via Classify.
type Categorized interface {
	error
	Category() Category
}

// categorized is the concrete wrapper returned by New and Wrap.
type categorized struct {
	cat Category
	err error
}

func (c *categorized) Error() string    { return c.err.Error() }
func (c *categorized) Unwrap() error    { return c.err }
func (c *categorized) Category() Category { return c.cat }

// New builds a categorized error from a format string, the same call
// shape as fmt.Errorf.
func New(cat Category, format string, args ...any) error {
	return &categorized{cat: cat, err: fmt.Errorf(format, args...)}
}

// Wrap attaches a category to an existing error without discarding it;
// errors.Is/As continue to see through to err.
func Wrap(cat Category, err error) error {
	if err == nil {
		return nil
	}
	return &categorized{cat: cat, err: err}
}

// Classify returns the category carried by err, or CategoryUnknown if
// neither err nor anything in its Unwrap chain implements Categorized.
func Classify(err error) Category {
	var c Categorized
	if errors.As(err, &c) {
		return c.Category()
	}
	return CategoryUnknown
}
