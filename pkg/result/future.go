package result

import (
	"context"
	"fmt"
	"sync"
)

// Future is a unit of work that completes at most once with a Result.
// Work starts when the Future is constructed and always runs to completion;
// there is no cancellation. A caller may stop waiting but cannot abort it.
type Future[T any] struct {
	done chan struct{}
	once sync.Once
	res  Result[T]
}

// Go starts fn on its own goroutine and returns a Future for its outcome.
// The context is handed to fn unchanged; Future itself never cancels it.
// A panic inside fn is converted into a failure.
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) *Future[T] {
	f := newFuture[T]()
	go func() {
		defer func() {
			if p := recover(); p != nil {
				f.complete(Err[T](fmt.Errorf("result: future panicked: %v", p)))
			}
		}()
		f.complete(FromPair(fn(ctx)))
	}()
	return f
}

// Resolved returns an already-completed successful Future.
func Resolved[T any](v T) *Future[T] {
	f := newFuture[T]()
	f.complete(Ok(v))
	return f
}

// Rejected returns an already-completed failed Future.
func Rejected[T any](err error) *Future[T] {
	f := newFuture[T]()
	f.complete(Err[T](err))
	return f
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) complete(r Result[T]) {
	f.once.Do(func() {
		f.res = r
		close(f.done)
	})
}

// Done is closed once the Future has completed.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Await blocks until the Future completes or ctx is done. When ctx ends
// first the returned Result carries ctx.Err(); the underlying work keeps
// running and its outcome remains observable through later Await calls.
func (f *Future[T]) Await(ctx context.Context) Result[T] {
	select {
	case <-f.done:
		return f.res
	case <-ctx.Done():
		return Err[T](ctx.Err())
	}
}

// Wait blocks until completion regardless of any context.
func (f *Future[T]) Wait() Result[T] {
	<-f.done
	return f.res
}

// Then runs next only after f succeeds, feeding it f's value. A failure of f
// completes the returned Future with that failure without invoking next.
func Then[T, U any](ctx context.Context, f *Future[T], next func(context.Context, T) (U, error)) *Future[U] {
	out := newFuture[U]()
	go func() {
		r := f.Wait()
		if r.IsErr() {
			out.complete(Err[U](r.Error()))
			return
		}
		inner := Go(ctx, func(ctx context.Context) (U, error) { return next(ctx, r.Value()) })
		out.complete(inner.Wait())
	}()
	return out
}

// MapFuture transforms a successful outcome with a pure function.
func MapFuture[T, U any](f *Future[T], fn func(T) U) *Future[U] {
	out := newFuture[U]()
	go func() {
		out.complete(Map(f.Wait(), fn))
	}()
	return out
}

// Settle waits for every future and returns each outcome in input order.
// No failure is dropped and none stops the others from being collected.
func Settle[T any](futures ...*Future[T]) *Future[[]Result[T]] {
	out := newFuture[[]Result[T]]()
	go func() {
		results := make([]Result[T], len(futures))
		for i, f := range futures {
			results[i] = f.Wait()
		}
		out.complete(Ok(results))
	}()
	return out
}

// Combine joins two independent futures once both complete. If either
// fails, the first failure in argument order is reported.
func Combine[A, B, C any](fa *Future[A], fb *Future[B], fn func(A, B) C) *Future[C] {
	out := newFuture[C]()
	go func() {
		ra := fa.Wait()
		rb := fb.Wait()
		switch {
		case ra.IsErr():
			out.complete(Err[C](ra.Error()))
		case rb.IsErr():
			out.complete(Err[C](rb.Error()))
		default:
			out.complete(Ok(fn(ra.Value(), rb.Value())))
		}
	}()
	return out
}
