// Package result provides a two-armed Result type and a single-resolution
// asynchronous Future used by the query and workflow layers in place of
// panics for expected failures.
package result

import "errors"

// Result carries either a success value or a failure, never both.
type Result[T any] struct {
	value T
	err   error
}

// Ok wraps a success value.
func Ok[T any](v T) Result[T] {
	return Result[T]{value: v}
}

// Err wraps a failure. A nil error is replaced with ErrNilFailure so that an
// Err result can never be mistaken for a success.
func Err[T any](err error) Result[T] {
	if err == nil {
		err = ErrNilFailure
	}
	return Result[T]{err: err}
}

// ErrNilFailure marks an Err constructed without an underlying error.
var ErrNilFailure = errors.New("result: failure without error")

// FromPair converts a conventional (value, error) return into a Result.
func FromPair[T any](v T, err error) Result[T] {
	if err != nil {
		return Err[T](err)
	}
	return Ok(v)
}

// IsOk reports whether the result holds a success value.
func (r Result[T]) IsOk() bool { return r.err == nil }

// IsErr reports whether the result holds a failure.
func (r Result[T]) IsErr() bool { return r.err != nil }

// Value returns the success value, or the zero value on failure.
func (r Result[T]) Value() T { return r.value }

// Error returns the failure, or nil on success.
func (r Result[T]) Error() error { return r.err }

// Unwrap returns the conventional Go pair.
func (r Result[T]) Unwrap() (T, error) { return r.value, r.err }

// ValueOr returns the success value or fallback on failure.
func (r Result[T]) ValueOr(fallback T) T {
	if r.err != nil {
		return fallback
	}
	return r.value
}

// OrElse returns r when it succeeded, otherwise the result of fn applied to
// the failure.
func (r Result[T]) OrElse(fn func(error) Result[T]) Result[T] {
	if r.err == nil {
		return r
	}
	return fn(r.err)
}

// Map applies fn to a success value; failures pass through unchanged.
func Map[T, U any](r Result[T], fn func(T) U) Result[U] {
	if r.err != nil {
		return Err[U](r.err)
	}
	return Ok(fn(r.value))
}

// AndThen chains a fallible step onto a success value; failures short-circuit.
func AndThen[T, U any](r Result[T], fn func(T) Result[U]) Result[U] {
	if r.err != nil {
		return Err[U](r.err)
	}
	return fn(r.value)
}

// MapErr rewrites the failure arm; successes pass through unchanged.
func MapErr[T any](r Result[T], fn func(error) error) Result[T] {
	if r.err == nil {
		return r
	}
	return Err[T](fn(r.err))
}

// Fold collapses both arms into a single value.
func Fold[T, U any](r Result[T], onErr func(error) U, onOk func(T) U) U {
	if r.err != nil {
		return onErr(r.err)
	}
	return onOk(r.value)
}

// Partition splits results into success values and failures, preserving order.
func Partition[T any](results []Result[T]) ([]T, []error) {
	var values []T
	var errs []error
	for _, r := range results {
		if r.err != nil {
			errs = append(errs, r.err)
			continue
		}
		values = append(values, r.value)
	}
	return values, errs
}
