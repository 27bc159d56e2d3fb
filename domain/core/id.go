package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ID represents a domain identifier
type ID string

// NewID creates a new unique identifier using UUID v7 for time-ordered generation
func NewID() ID {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to v4 if v7 fails
		id = uuid.New()
	}
	return ID(id.String())
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// Domain-specific ID types
type (
	TenderID ID
	RunID    ID
)

// String conversions for domain IDs
func (id TenderID) String() string { return ID(id).String() }
func (id RunID) String() string    { return ID(id).String() }

// NewRunID creates an identifier for one counterfactual search run
func NewRunID() RunID {
	return RunID(NewID())
}

// ParseTenderID parses a string into TenderID. Surrounding whitespace is dropped.
func ParseTenderID(s string) (TenderID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: tender ID cannot be empty", ErrInvalidTender)
	}
	return TenderID(s), nil
}
