package pronunciation

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned when a config option lies outside its
	// enumeration.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrMalformedInput is returned when config JSON or a result payload is
	// present but cannot be decoded.
	ErrMalformedInput = errors.New("malformed input")

	// ErrMissingPayload is returned when there is nothing to decode at all.
	ErrMissingPayload = errors.New("missing assessment payload")
)

// InvalidArgumentError names the field and the rejected value.
type InvalidArgumentError struct {
	Field string
	Value any
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument: %s %v is not a recognized value", e.Field, e.Value)
}

func (e *InvalidArgumentError) Unwrap() error { return ErrInvalidArgument }

// MalformedInputError carries the offending content alongside the decode error.
type MalformedInputError struct {
	Content string
	Err     error
}

func (e *MalformedInputError) Error() string {
	if e.Err == nil {
		return ErrMalformedInput.Error()
	}
	return fmt.Sprintf("malformed input: %v", e.Err)
}

func (e *MalformedInputError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrMalformedInput}
	}
	return []error{ErrMalformedInput, e.Err}
}

func malformed(content []byte, err error) error {
	return &MalformedInputError{Content: string(content), Err: err}
}
