package connector

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"golang.org/x/sync/errgroup"
)

// ChunkError reports a chunk whose results were discarded.
type ChunkError struct {
	Index int
	Size  int
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d (%d items): %v", e.Index, e.Size, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

// Chunker processes items in fixed-size chunks. Items inside a chunk run
// concurrently (at most Size at a time); chunks run one after another with Pause
// in between. A failing item discards its whole chunk, the other chunks are kept.
type Chunker struct {
	Size  int
	Pause time.Duration
	Clock quartz.Clock
}

// RunChunked applies fn to every item and returns the results of the successful
// chunks in input order, plus one *ChunkError per failed chunk. The returned error
// is non-nil only when ctx ends.
func RunChunked[T, R any](ctx context.Context, c Chunker, items []T, fn func(ctx context.Context, item T) (R, error)) ([]R, []error, error) {
	size := c.Size
	if size <= 0 {
		size = len(items)
	}
	clock := c.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}

	var (
		out    []R
		failed []error
	)
	for start, index := 0, 0; start < len(items); start, index = start+size, index+1 {
		if index > 0 && c.Pause > 0 {
			if err := pause(ctx, clock, c.Pause); err != nil {
				return out, failed, err
			}
		}
		end := min(start+size, len(items))
		chunk := items[start:end]

		results, err := runChunk(ctx, size, chunk, fn)
		if err != nil {
			if ctx.Err() != nil {
				return out, failed, ctx.Err()
			}
			failed = append(failed, &ChunkError{Index: index, Size: len(chunk), Err: err})
			continue
		}
		out = append(out, results...)
	}
	return out, failed, nil
}

func runChunk[T, R any](ctx context.Context, limit int, chunk []T, fn func(context.Context, T) (R, error)) ([]R, error) {
	results := make([]R, len(chunk))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, item := range chunk {
		g.Go(func() error {
			r, err := fn(gctx, item)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func pause(ctx context.Context, clock quartz.Clock, d time.Duration) error {
	timer := clock.NewTimer(d, "connector", "chunk_pause")
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
