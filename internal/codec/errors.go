package codec

import (
	"errors"
	"fmt"
)

// FramingError reports a frame whose byte stuffing or delimiting is malformed.
type FramingError struct {
	Reason string
	Offset int // byte offset inside the frame, -1 when not applicable
}

// Error implements the error interface
func (e *FramingError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Offset >= 0 {
		return fmt.Sprintf("malformed frame at byte %d: %s", e.Offset, e.Reason)
	}
	return fmt.Sprintf("malformed frame: %s", e.Reason)
}

// Is makes every FramingError match ErrFraming.
func (e *FramingError) Is(target error) bool {
	_, ok := target.(*FramingError)
	return ok
}

// SchemaError reports a payload that does not match the expected binary message layout.
type SchemaError struct {
	Message string // protobuf message being parsed, e.g. "EcgBuffer"
	Field   string // offending field, empty when the failure is not field specific
	Err     error
}

// Error implements the error interface
func (e *SchemaError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("invalid %s payload", e.Message)
	if e.Field != "" {
		msg += fmt.Sprintf(" (field %s)", e.Field)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is makes every SchemaError match ErrSchema.
func (e *SchemaError) Is(target error) bool {
	_, ok := target.(*SchemaError)
	return ok
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

var (
	ErrFraming = &FramingError{Offset: -1}
	ErrSchema  = &SchemaError{}

	errTruncated = errors.New("truncated field")
)

func framingError(offset int, format string, args ...any) error {
	return &FramingError{Reason: fmt.Sprintf(format, args...), Offset: offset}
}
