package template

import (
	"errors"
	"fmt"
)

var (
	ErrSchema = errors.New("template: schema error")
	ErrEncode = errors.New("template: encode error")
	ErrDecode = errors.New("template: decode error")
)

// FieldError attaches the dotted path of the failing field to an encode or
// decode error.
type FieldError struct {
	Underlying error
	Path       string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Underlying)
}

func (e *FieldError) Unwrap() error { return e.Underlying }

// withField prefixes name onto the path of err.
func withField(name string, err error) error {
	if err == nil {
		return nil
	}
	var fe *FieldError
	if errors.As(err, &fe) {
		return &FieldError{Underlying: fe.Underlying, Path: name + "." + fe.Path}
	}
	return &FieldError{Underlying: err, Path: name}
}

func schemaErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSchema, fmt.Sprintf(format, args...))
}

func encodeErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrEncode, fmt.Sprintf(format, args...))
}

func decodeErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDecode, fmt.Sprintf(format, args...))
}
