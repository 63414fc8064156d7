package download

import (
	"context"
	"log"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the pool size DownloadMany uses when none is given.
const DefaultConcurrency = 4

type Item struct {
	ID  string
	URL string
}

// Result is the outcome for one Item. Exactly one of Handle and Err is set.
type Result struct {
	Index  int
	ID     string
	URL    string
	Handle *Handle
	Err    error
}

type ManyOptions struct {
	Concurrency int

	// OnResult, if set, is called as each item finishes. It may be called
	// from several goroutines at once.
	OnResult func(Result)

	// Lease takes each handle with Acquire. The caller must Release every
	// successful handle.
	Lease bool
}

// DownloadMany fetches items with a fixed pool of workers pulling from one
// queue in order. A failed item does not stop the others. Once ctx is done
// no new fetches start; items that never ran carry the context error.
// Results are returned in input order.
func (m *Manager) DownloadMany(ctx context.Context, items []Item, opts ManyOptions) []Result {
	results := make([]Result, len(items))
	done := make([]bool, len(items))
	for i, it := range items {
		results[i] = Result{Index: i, ID: it.ID, URL: it.URL}
	}
	if len(items) == 0 {
		return results
	}

	workers := opts.Concurrency
	if workers <= 0 {
		workers = DefaultConcurrency
	}
	if workers > len(items) {
		workers = len(items)
	}

	queue := make(chan int)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(queue)
		for i := range items {
			select {
			case queue <- i:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := range queue {
				if gctx.Err() != nil {
					return nil
				}
				get := m.Download
				if opts.Lease {
					get = m.Acquire
				}
				h, err := get(gctx, items[i].ID, items[i].URL)
				// Each index is written by exactly one worker.
				results[i].Handle, results[i].Err = h, err
				done[i] = true
				if err != nil {
					log.Printf("[Download] Item %d (%s) failed: %v", i, items[i].ID, err)
				}
				if opts.OnResult != nil {
					opts.OnResult(results[i])
				}
			}
			return nil
		})
	}

	g.Wait()

	failed := 0
	for i := range results {
		if !done[i] {
			results[i].Err = ctx.Err()
			if results[i].Err == nil {
				results[i].Err = context.Canceled
			}
		}
		if results[i].Err != nil {
			failed++
		}
	}
	log.Printf("[Download] Batch finished: %d/%d succeeded (concurrency=%d)", len(items)-failed, len(items), workers)

	return results
}
