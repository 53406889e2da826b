// Package status defines the error kinds surfaced by the storage core.
// Callers classify failures with errors.Is against the sentinels below;
// call sites attach context by wrapping with fmt.Errorf("...: %w", ...).
package status

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks a missing key or a deletion tombstone.
	ErrNotFound = errors.New("not found")
	// ErrCorruption marks malformed bytes: bad checksums, truncated or
	// misencoded blocks, out-of-order keys.
	ErrCorruption = errors.New("corruption")
	// ErrInvalidArgument marks caller misuse, such as switching comparators
	// while building a table.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Corruptionf builds a corruption error with formatted context.
func Corruptionf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrCorruption, fmt.Sprintf(format, args...))
}

// IsNotFound reports whether err is a not-found condition.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsCorruption reports whether err is a corruption condition.
func IsCorruption(err error) bool { return errors.Is(err, ErrCorruption) }
