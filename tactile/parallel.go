package tactile

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// minChunk keeps small workloads on one goroutine.
const minChunk = 256

// parallelFor runs fn over [0, n) in contiguous chunks. fn must only write
// to per-index state; reductions happen afterwards on the caller's goroutine
// so results do not depend on scheduling.
func parallelFor(n int, fn func(i int)) {
	if n <= minChunk {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}
	workers := runtime.GOMAXPROCS(0)
	chunk := (n + workers - 1) / workers
	if chunk < minChunk {
		chunk = minChunk
	}

	var g errgroup.Group
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		g.Go(func() error {
			for i := start; i < end; i++ {
				fn(i)
			}
			return nil
		})
	}
	_ = g.Wait()
}
