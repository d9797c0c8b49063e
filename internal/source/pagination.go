package source

import (
	"bytes"
	"context"
	"io"
)

// pageFetcher fetches one page given a cursor ("" for the first page) and
// returns its items plus the cursor for the next page ("" if none).
// Generalizes the teacher's fetchAllChildren/listChildrenPage pagination
// driver (internal/graph/items.go) over an arbitrary item type, matching
// spec §4.2/§9's "lazy, finite, non-restartable sequence" contract.
type pageFetcher[T any] func(ctx context.Context, cursor string) (Page[T], error)

// Lister is a forward-only, non-restartable cursor over a paginated
// source listing. It stops when a page has an empty NextCursor, or fails
// permanently once any page fetch errors (spec §4.2: "A listing may fail
// on any page; the failure terminates the sequence").
type Lister[T any] struct {
	fetch  pageFetcher[T]
	cursor string
	done   bool
	failed error
}

func newLister[T any](_ *Client, fetch pageFetcher[T]) *Lister[T] {
	return &Lister[T]{fetch: fetch}
}

// Next returns the next page of items. ok is false once the sequence is
// exhausted or has failed; callers must check err even when ok is false
// to distinguish a clean end from a failure.
func (l *Lister[T]) Next(ctx context.Context) (items []T, ok bool, err error) {
	if l.done {
		return nil, false, l.failed
	}

	page, err := l.fetch(ctx, l.cursor)
	if err != nil {
		l.done = true
		l.failed = err
		return nil, false, err
	}

	l.cursor = page.NextCursor
	if l.cursor == "" {
		l.done = true
	}
	return page.Items, !l.done, nil
}

// All drains the entire sequence into a slice, stopping at the first
// error. Convenience for callers (e.g. Scanner) that don't need
// page-at-a-time streaming.
func (l *Lister[T]) All(ctx context.Context) ([]T, error) {
	var all []T
	for {
		items, ok, err := l.Next(ctx)
		if err != nil {
			return all, err
		}
		all = append(all, items...)
		if !ok {
			return all, nil
		}
	}
}

func jsonReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}
