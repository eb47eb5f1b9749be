// Package batch runs lookups in fixed-size waves.
package batch

import (
	"context"
	"sync"
)

// DefaultLimit is the number of requests allowed in flight at once.
const DefaultLimit = 4

// Run calls fn for every item, at most limit at a time. Items are processed
// in waves: the next wave starts only after every call of the current wave
// has returned. A failing item is converted by onErr instead of aborting
// the batch. Results keep input order.
func Run[T, R any](
	ctx context.Context,
	items []T,
	limit int,
	fn func(ctx context.Context, item T) (R, error),
	onErr func(item T, err error) R,
) []R {
	if limit <= 0 {
		limit = DefaultLimit
	}
	results := make([]R, len(items))

	for start := 0; start < len(items); start += limit {
		end := start + limit
		if end > len(items) {
			end = len(items)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				r, err := runOne(ctx, items[idx], fn)
				if err != nil {
					r = onErr(items[idx], err)
				}
				results[idx] = r
			}(i)
		}
		wg.Wait()
	}

	return results
}

func runOne[T, R any](ctx context.Context, item T, fn func(context.Context, T) (R, error)) (r R, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicError{value: p}
		}
	}()
	return fn(ctx, item)
}

type panicError struct{ value any }

func (p panicError) Error() string {
	if e, ok := p.value.(error); ok {
		return "panic: " + e.Error()
	}
	if s, ok := p.value.(string); ok {
		return "panic: " + s
	}
	return "panic in batch item"
}
