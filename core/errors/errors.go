// Package errors provides the error taxonomy shared by the merge engine,
// the document repository and the HTTP layer.
//
// Each typed error unwraps to one of the sentinels below so callers can
// classify a failure with errors.Is without knowing its concrete type.
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks a document location that does not resolve to a file.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput marks bad caller input, including unreadable documents.
	ErrInvalidInput = errors.New("invalid input")
	// ErrRender marks a failure of the external PDF renderer.
	ErrRender = errors.New("render failed")

	// ErrPathTraversal marks a location that escapes the repository root.
	ErrPathTraversal = fmt.Errorf("%w: path escapes repository root", ErrInvalidInput)
)

// joined returns base alone, or base followed by cause.
func joined(base, cause error) []error {
	if cause == nil {
		return []error{base}
	}
	return []error{base, cause}
}

// NotFoundError names the missing thing and how the caller asked for it.
type NotFoundError struct {
	Resource string // "document", "blob"
	ID       string // location as supplied
	Err      error
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Resource + " not found"
	}
	return e.Resource + " not found: " + e.ID
}

func (e *NotFoundError) Unwrap() []error { return joined(ErrNotFound, e.Err) }

// NewDocumentNotFound reports a merge or preview location that does not
// resolve to an existing file.
func NewDocumentNotFound(location string) *NotFoundError {
	return &NotFoundError{Resource: "document", ID: location}
}

// ValidationError is a rejected request field or config key.
type ValidationError struct {
	Field   string
	Value   string // may be redacted
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return "validation failed for " + e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() []error { return joined(ErrInvalidInput, e.Err) }

// NewValidation rejects field with message.
func NewValidation(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IOError is a filesystem failure while reading inputs or writing output.
type IOError struct {
	Operation string // "read", "write", "create"
	Path      string
	Err       error
}

func (e *IOError) Error() string {
	target := e.Operation
	if e.Path != "" {
		target += " " + e.Path
	}
	return fmt.Sprintf("failed to %s: %v", target, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// NewIO wraps err from operation on path.
func NewIO(operation, path string, err error) *IOError {
	return &IOError{Operation: operation, Path: path, Err: err}
}

// ParseError is a document that exists but cannot be loaded.
type ParseError struct {
	Format  string // "DOCX", "XML"
	Path    string
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	where := e.Format
	if e.Path != "" {
		where += " at " + e.Path
	}
	return "failed to parse " + where + ": " + e.Message
}

func (e *ParseError) Unwrap() []error { return joined(ErrInvalidInput, e.Err) }

// NewDocumentLoad reports a file that exists but is not a readable DOCX package.
func NewDocumentLoad(path, message string, err error) *ParseError {
	return &ParseError{Format: "DOCX", Path: path, Message: message, Err: err}
}

// RenderError reports a failure of the external PDF renderer.
type RenderError struct {
	Renderer string // binary or name
	Path     string // source document
	Output   string // captured diagnostics, trimmed
	Err      error
}

func (e *RenderError) Error() string {
	msg := fmt.Sprintf("%s failed to render %s", e.Renderer, e.Path)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Output != "" {
		msg += " (" + e.Output + ")"
	}
	return msg
}

func (e *RenderError) Unwrap() []error { return joined(ErrRender, e.Err) }

// NewRender reports that renderer failed on path.
func NewRender(renderer, path, output string, err error) *RenderError {
	return &RenderError{Renderer: renderer, Path: path, Output: output, Err: err}
}

// Relocate replaces the filesystem path carried by a ParseError or
// RenderError in err with location, so the message names the document the
// way the caller asked for it. err is returned for chaining.
func Relocate(err error, location string) error {
	var pe *ParseError
	if errors.As(err, &pe) {
		pe.Path = location
	}
	var re *RenderError
	if errors.As(err, &re) {
		re.Path = location
	}
	return err
}

// Wrap prefixes err with message. A nil err stays nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Is is errors.Is, re-exported so callers need one import.
func Is(err, target error) bool { return errors.Is(err, target) }

// As is errors.As, re-exported so callers need one import.
func As(err error, target any) bool { return errors.As(err, target) }
