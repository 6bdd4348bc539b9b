package connector

import (
	"context"
	"errors"
	"fmt"
)

// DefaultMaxPages bounds a single pager; servers that never report the end are cut off.
const DefaultMaxPages = 10000

var (
	// ErrPagerExhausted is returned by Next once the sequence has ended.
	ErrPagerExhausted = errors.New("pager exhausted")
	// ErrTooManyPages is returned when a server keeps reporting more pages past MaxPages.
	ErrTooManyPages = errors.New("too many pages")
)

// PageRequest describes the page being requested. Offset-based APIs use Limit and
// Offset, cursor-based APIs use Limit and Cursor (empty for the first page).
type PageRequest struct {
	Index  int
	Limit  int
	Offset int
	Cursor string
}

// Page is one server response.
type Page[T any] struct {
	Items []T
	// Last is set when the server says there is nothing after this page.
	Last bool
	// NextCursor continues a cursor-based sequence; empty ends it.
	NextCursor string
}

// PageFunc fetches one page.
type PageFunc[T any] func(ctx context.Context, req PageRequest) (Page[T], error)

// Pager walks a paginated API lazily. It is finite and cannot be restarted.
type Pager[T any] struct {
	fetch    PageFunc[T]
	limit    int
	cursors  bool
	MaxPages int

	req  PageRequest
	done bool
}

// NewOffsetPager walks an offset/limit API.
func NewOffsetPager[T any](limit int, fetch PageFunc[T]) *Pager[T] {
	return &Pager[T]{fetch: fetch, limit: limit, MaxPages: DefaultMaxPages, req: PageRequest{Limit: limit}}
}

// NewCursorPager walks a cursor/next-page-token API.
func NewCursorPager[T any](limit int, fetch PageFunc[T]) *Pager[T] {
	return &Pager[T]{fetch: fetch, limit: limit, cursors: true, MaxPages: DefaultMaxPages, req: PageRequest{Limit: limit}}
}

// Next fetches the next page. ok is false once the sequence has ended; the items
// returned alongside ok == false (the final page) are still valid.
func (p *Pager[T]) Next(ctx context.Context) (items []T, ok bool, err error) {
	if p.done {
		return nil, false, ErrPagerExhausted
	}
	if p.MaxPages > 0 && p.req.Index >= p.MaxPages {
		p.done = true
		return nil, false, fmt.Errorf("%w: stopped after %d", ErrTooManyPages, p.MaxPages)
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	page, err := p.fetch(ctx, p.req)
	if err != nil {
		p.done = true
		return nil, false, err
	}

	switch {
	case page.Last:
		p.done = true
	case p.cursors:
		// Token APIs may return short or empty pages mid-sequence; only a
		// missing token ends it.
		p.done = page.NextCursor == ""
	case len(page.Items) == 0:
		p.done = true
	case p.limit > 0 && len(page.Items) < p.limit:
		p.done = true
	}

	p.req.Index++
	p.req.Offset += len(page.Items)
	p.req.Cursor = page.NextCursor
	return page.Items, !p.done, nil
}

// Drain walks every remaining page and flattens the items in order.
func (p *Pager[T]) Drain(ctx context.Context) ([]T, error) {
	var out []T
	for {
		items, more, err := p.Next(ctx)
		if err != nil {
			return out, err
		}
		out = append(out, items...)
		if !more {
			return out, nil
		}
	}
}
