package trello

import (
	"context"
)

// PageFunc fetches one page of records. before is the pagination
// cursor, empty for the first page. Implementations return the page,
// a throttle signal, or an error.
type PageFunc[T any] func(ctx context.Context, limit int, before string) ([]T, *RateLimitSignal, error)

// PageHandler consumes one fetched page before the cursor advances.
// Returning an error stops the run with that error; the failed page is
// not committed, so a resumed run refetches it.
type PageHandler[T any] func(page []T) error

// PageOptions controls a pagination run.
type PageOptions struct {
	// PageSize is the per-request limit. Required.
	PageSize int
	// Before resumes from a checkpointed cursor.
	Before string
	// MaxRecords stops early once this many records have been handled
	// across pages. Zero means unbounded.
	MaxRecords int
}

// PageResult is the outcome of a pagination run. When Throttled is
// set, Cursor covers everything handled before the throttle and is
// safe to checkpoint for resumption.
type PageResult struct {
	// Records counts the records handed to the handler.
	Records   int
	Cursor    string
	Throttled *RateLimitSignal
	// Exhausted is true when the final page was shorter than the page
	// size, meaning no further records exist.
	Exhausted bool
}

// Paginate drives backward cursor pagination. Pages arrive newest
// first, so the cursor for the next page is the ID of the first record
// on the page just fetched. The cursor advances only after handle
// accepts the page; a nil handle just counts records.
func Paginate[T any](ctx context.Context, fetch PageFunc[T], opts PageOptions, id func(T) string, handle PageHandler[T]) (*PageResult, error) {
	result := &PageResult{Cursor: opts.Before}

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		page, rl, err := fetch(ctx, opts.PageSize, result.Cursor)
		if err != nil {
			return result, err
		}
		if rl != nil && rl.Throttled {
			result.Throttled = rl
			return result, nil
		}

		if len(page) > 0 {
			if handle != nil {
				if err := handle(page); err != nil {
					return result, err
				}
			}
			result.Records += len(page)
			result.Cursor = id(page[0])
		}

		if len(page) < opts.PageSize {
			result.Exhausted = true
			return result, nil
		}
		if opts.MaxRecords > 0 && result.Records >= opts.MaxRecords {
			return result, nil
		}
	}
}

// CountRecords paginates without retaining records, returning only the
// total. Used for sync-unit item counts.
func CountRecords[T any](ctx context.Context, fetch PageFunc[T], pageSize int, id func(T) string) (int, *RateLimitSignal, error) {
	res, err := Paginate(ctx, fetch, PageOptions{PageSize: pageSize}, id, nil)
	if err != nil {
		return res.Records, nil, err
	}
	return res.Records, res.Throttled, nil
}
