package analysis

import (
	"errors"
	"fmt"
)

var (
	// ErrNoInput is returned when neither text nor images were provided.
	ErrNoInput = errors.New("no text or images provided")
	// ErrTooManyImages is returned when more than MaxImages are attached.
	ErrTooManyImages = fmt.Errorf("at most %d images are allowed", MaxImages)
	// ErrSerialization is returned when the request cannot be encoded.
	ErrSerialization = errors.New("failed to serialize request")
	// ErrEmptyResponse is returned when the backend answers with no body.
	ErrEmptyResponse = errors.New("empty response body")
)

// TransportError is a network or connection failure talking to the backend.
type TransportError struct {
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	return "transport error: " + e.Message
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// EnvelopeError means the response envelope was unusable: either it was not
// a JSON object, or it was the backend's own error object.
type EnvelopeError struct {
	Code    int
	Message string
	Status  string
	// Malformed is set when the envelope could not be parsed at all.
	Malformed bool
	Err       error
}

func (e *EnvelopeError) Error() string {
	if e.Malformed {
		if e.Err != nil {
			return fmt.Sprintf("malformed envelope: %v", e.Err)
		}
		return "malformed envelope"
	}
	return fmt.Sprintf("api error %d %s: %s", e.Code, e.Status, e.Message)
}

func (e *EnvelopeError) Unwrap() error {
	return e.Err
}

// ShapeError means the envelope parsed but the candidate text path is missing.
type ShapeError struct {
	Path string
}

func (e *ShapeError) Error() string {
	return "unexpected response shape at " + e.Path
}

// SchemaError means the model's text did not match the result schema.
type SchemaError struct {
	Detail string
	Err    error
}

func (e *SchemaError) Error() string {
	return "schema mismatch: " + e.Detail
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}
