package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation  = errors.New("check your product details")
	ErrAssetUpload = errors.New("failed to upload image")
	ErrParse       = errors.New("malformed numeric field")
	ErrPersistence = errors.New("failed to persist product")
	ErrNotFound    = errors.New("not found")
	ErrClosed      = errors.New("submissions are closed")
)

// A FieldProblem describes why a single draft field was rejected.
type FieldProblem struct {
	Field  string
	Reason string
}

// A ValidationError is returned by the draft validation gate.
// It never reaches the submission pipeline.
type ValidationError struct {
	Problems []FieldProblem
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = p.Field + ": " + p.Reason
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func (e *ValidationError) add(field, reason string) {
	e.Problems = append(e.Problems, FieldProblem{field, reason})
}

// An AssetUploadError is a per-image failure. It is logged and the image
// is dropped; the submission goes on.
type AssetUploadError struct {
	Ref ImageRef
	Err error
}

func (e *AssetUploadError) Error() string {
	return fmt.Sprintf("%s %q: %v", ErrAssetUpload, e.Ref, e.Err)
}

func (e *AssetUploadError) Unwrap() []error {
	return []error{ErrAssetUpload, e.Err}
}

// A ParseError reports a malformed numeric field found during record
// assembly. It is fatal to the submission.
type ParseError struct {
	Field string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s %s=%q: %v", ErrParse, e.Field, e.Value, e.Err)
}

func (e *ParseError) Unwrap() []error {
	return []error{ErrParse, e.Err}
}
