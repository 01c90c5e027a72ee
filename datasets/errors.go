package datasets

import (
	"fmt"

	"github.com/pkg/errors"
)

// ConfigurationError reports a dataset that cannot be indexed or a generator
// that cannot be built: bad split ratio, empty directory, mismatched counts,
// invalid palette. It is raised at construction and never retried.
type ConfigurationError struct {
	Op  string
	Msg string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

func configErrorf(op, format string, args ...any) error {
	return &ConfigurationError{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// DecodeError reports an image that could not be read while drawing a batch.
// The batch being assembled is abandoned.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode image %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// PatternMismatch is the diagnostic recorded for a label file whose name does
// not follow the dataset naming convention. The file is skipped.
type PatternMismatch struct {
	Split string
	Path  string
}

func (m PatternMismatch) String() string {
	return fmt.Sprintf("%s: %s does not match the label naming pattern", m.Split, m.Path)
}

// IsConfigurationError reports whether err wraps a *ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsDecodeError reports whether err wraps a *DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
