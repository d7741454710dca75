package parallel

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Parallelize divides items into one contiguous range per CPU core and runs
// fn on each range concurrently.
func Parallelize(items int, fn func(start, end int)) {
	if items == 0 {
		return
	}

	numWorkers := runtime.NumCPU()
	if numWorkers > items {
		numWorkers = items
	}
	chunkSize := (items + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > items {
			end = items
		}
		if start >= end {
			continue
		}

		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}
	wg.Wait()
}

// ParallelizeWithThreshold runs fn sequentially when items <= threshold.
func ParallelizeWithThreshold(items int, threshold int, fn func(start, end int)) {
	if items <= threshold {
		fn(0, items)
		return
	}
	Parallelize(items, fn)
}

// ForEachChunk is the error-returning variant of Parallelize. Ranges are at
// least minChunk long, at most workers goroutines run at once (0 means
// NumCPU), and the first error cancels the remaining ranges.
func ForEachChunk(ctx context.Context, items, minChunk, workers int, fn func(ctx context.Context, start, end int) error) error {
	if items <= 0 {
		return nil
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if minChunk < 1 {
		minChunk = 1
	}
	chunkSize := (items + workers - 1) / workers
	if chunkSize < minChunk {
		chunkSize = minChunk
	}
	if chunkSize >= items {
		return fn(ctx, 0, items)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for start := 0; start < items; start += chunkSize {
		s, e := start, start+chunkSize
		if e > items {
			e = items
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, s, e)
		})
	}
	return g.Wait()
}
