package calibrate

import "fmt"

// ExtractionError reports that the extraction pass produced no usable
// profile. The persona stays uncalibrated when this is returned.
type ExtractionError struct {
	Msg string
	Err error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("profile extraction: %s: %v", e.Msg, e.Err)
	}
	return "profile extraction: " + e.Msg
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// IsExtraction reports whether err is an ExtractionError.
func IsExtraction(err error) bool {
	_, ok := err.(*ExtractionError)
	return ok
}
