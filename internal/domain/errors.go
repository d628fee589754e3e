package domain

import "errors"

// Failure kinds surfaced by the cascade. An unmapped colour label is not an
// error; it shows up as StatusUnknown in the result.
var (
	ErrModelUnavailable  = errors.New("model unavailable")
	ErrEmptyInput        = errors.New("no usable label/score pairs")
	ErrPreprocessFailure = errors.New("image preprocessing failed")
)

// FailureKind names the kind of err for logs and API payloads.
func FailureKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrModelUnavailable):
		return "model_unavailable"
	case errors.Is(err, ErrEmptyInput):
		return "empty_input"
	case errors.Is(err, ErrPreprocessFailure):
		return "preprocess_failure"
	default:
		return "internal"
	}
}
