package core

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("resource not found")
	ErrNoCachedExplanation = fmt.Errorf("%w: cached counterfactuals", ErrNotFound)

	ErrInvalidTender = errors.New("invalid tender")
	ErrInvalidScore  = errors.New("risk score out of range")
)

// NewScoreError reports a risk score outside [0, 100].
func NewScoreError(score float64) error {
	return fmt.Errorf("%w: %v not in [0, 100]", ErrInvalidScore, score)
}

// IsValidationError reports whether err rejects a tender's input.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidTender) || errors.Is(err, ErrInvalidScore)
}
