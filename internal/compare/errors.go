package compare

import (
	"errors"
	"fmt"
)

// Code classifies a comparison failure.
type Code string

const (
	CodeExtractedNotJSON      Code = "EXTRACTED_NOT_JSON"
	CodeExpectedNotJSON       Code = "EXPECTED_NOT_JSON"
	CodeUnrecognizedRDFSyntax Code = "UNRECOGNIZED_RDF_SYNTAX"
	CodeExtractedNotRDF       Code = "EXTRACTED_NOT_RDF"
	CodeExpectedNotRDF        Code = "EXPECTED_NOT_RDF"
	CodeSPARQLQuery           Code = "SPARQL_QUERY"
	CodeExpectedUnavailable   Code = "EXPECTED_UNAVAILABLE"
)

// Error is a comparison that could not be carried out. It is reported as an
// Error verdict, never as a mismatch.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// IsCode reports whether err is a comparison Error with the given code.
func IsCode(err error, code Code) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}
