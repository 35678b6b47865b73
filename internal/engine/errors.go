package engine

import (
	"errors"
	"fmt"
)

// GenerationError reports a failed or unusable response from the
// generation boundary. Primary content-producing calls propagate it;
// auxiliary scoring/summary calls substitute documented defaults instead.
type GenerationError struct {
	Op  string // operation label, e.g. "generate", "embed"
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation %s: %v", e.Op, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Generationf wraps err as a GenerationError for the given operation.
func Generationf(op string, err error) error {
	return &GenerationError{Op: op, Err: err}
}

// IsGeneration reports whether err is (or wraps) a GenerationError.
func IsGeneration(err error) bool {
	var ge *GenerationError
	return errors.As(err, &ge)
}
