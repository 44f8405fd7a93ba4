package ident

import (
	"errors"
	"fmt"
)

// ErrFormat matches every *FormatError via errors.Is.
var ErrFormat = errors.New("malformed identity text")

// FormatError reports malformed identifier or reference input.
type FormatError struct {
	Kind   string // "identifier", "reference", ...
	Input  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("parse %s %q: %s", e.Kind, e.Input, e.Reason)
}

// Unwrap allows errors.Is(err, ErrFormat).
func (e *FormatError) Unwrap() error {
	return ErrFormat
}
