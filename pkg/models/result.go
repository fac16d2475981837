package models

// Result is the outcome of one call to an external service: either a value
// or a coded failure, never both.
type Result[T any] struct {
	value T
	err   *Error
}

func Success[T any](v T) Result[T] {
	return Result[T]{value: v}
}

func Failure[T any](code ErrorCode, cause error) Result[T] {
	return Result[T]{err: NewError(code, "", cause)}
}

func (r Result[T]) Ok() bool { return r.err == nil }

// Value returns the success value; it is the zero value on failure.
func (r Result[T]) Value() T { return r.value }

// Err returns the failure as an error, or nil on success.
func (r Result[T]) Err() error {
	if r.err == nil {
		return nil
	}
	return r.err
}

// Code returns the failure code, or "" on success.
func (r Result[T]) Code() ErrorCode {
	if r.err == nil {
		return ""
	}
	return r.err.Code
}
