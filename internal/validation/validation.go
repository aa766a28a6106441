// Package validation collects field-level form errors.
package validation

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// ErrInvalid is matched by every *Errors value via errors.Is.
var ErrInvalid = errors.New("validation failed")

// FieldError is one rejected field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Errors accumulates FieldErrors; the zero value is ready to use.
type Errors struct {
	Fields []FieldError `json:"fields"`
}

// Add records a failure for field.
func (e *Errors) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// MinLength records message when s is shorter than n characters.
func (e *Errors) MinLength(field, s string, n int, message string) {
	if utf8.RuneCountInString(s) < n {
		e.Add(field, message)
	}
}

// Err returns nil when nothing failed.
func (e *Errors) Err() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *Errors) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Message
	}
	return strings.Join(msgs, "; ")
}

// Is makes errors.Is(err, ErrInvalid) true.
func (e *Errors) Is(target error) bool {
	return target == ErrInvalid
}
