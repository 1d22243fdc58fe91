package errors

import (
	"errors"
	"fmt"
)

// Failure categories crossed between components. Each boundary returns a
// degraded value alongside one of these instead of panicking upward.

var (
	// ErrRetrievalUnavailable indicates the vector or lexical index is missing or unreachable
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")

	// ErrClassificationFailed indicates the LLM classification path failed and the heuristic was used
	ErrClassificationFailed = errors.New("classification failed")

	// ErrGenerationFailed indicates the generation provider failed or timed out
	ErrGenerationFailed = errors.New("generation failed")

	// ErrPersistenceFailed indicates a session snapshot could not be written
	ErrPersistenceFailed = errors.New("persistence failed")

	// ErrSessionNotFound indicates a requested session does not exist
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidInput indicates invalid user input
	ErrInvalidInput = errors.New("invalid input")
)

// WrapError wraps an error with context message
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// WrapErrorf wraps an error with formatted context message
func WrapErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// IsRetrievalUnavailable checks if error is a retrieval availability error
func IsRetrievalUnavailable(err error) bool {
	return errors.Is(err, ErrRetrievalUnavailable)
}

// IsGenerationFailed checks if error is a generation failure
func IsGenerationFailed(err error) bool {
	return errors.Is(err, ErrGenerationFailed)
}

// IsSessionNotFound checks if error is a missing session error
func IsSessionNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound)
}
