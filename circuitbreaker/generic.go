package circuitbreaker

import "context"

// DoTyped runs fn under the breaker and returns its typed result, avoiding a
// type assertion at the call site. isFailure classifies the returned error:
// callers pass a predicate so that client-side errors (bad request, content
// filtered, ...) don't count against the breaker the way upstream faults do.
func DoTyped[T any](b *Breaker, ctx context.Context, isFailure func(error) bool, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	release, err := b.CanExecute()
	if err != nil {
		return zero, err
	}

	result, err := fn(ctx)
	release(err == nil || !isFailure(err))
	return result, err
}
