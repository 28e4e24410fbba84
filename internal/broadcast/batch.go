package broadcast

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"castbot/internal/transport"
)

// Partition splits ids into ordered batches of size (DefaultBatchSize when
// size <= 0). Only the last batch may be shorter. The result shares ids'
// backing array.
func Partition(ids []transport.Recipient, size int) [][]transport.Recipient {
	if size <= 0 {
		size = DefaultBatchSize
	}
	if len(ids) == 0 {
		return nil
	}
	out := make([][]transport.Recipient, 0, (len(ids)+size-1)/size)
	for i := 0; i < len(ids); i += size {
		end := min(i+size, len(ids))
		out = append(out, ids[i:end:end])
	}
	return out
}

// RunBatch delivers to every recipient of batch concurrently and returns the
// number of successes once all of them reached a terminal outcome.
func (e *Engine) RunBatch(ctx context.Context, run *RunState, batch []transport.Recipient, p transport.Payload, opts *transport.SendOptions) int {
	var ok atomic.Int64
	var g errgroup.Group
	for _, to := range batch {
		g.Go(func() error {
			if e.Deliver(ctx, run, to, p, opts) {
				ok.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(ok.Load())
}

// RunAllBatches advances through batches in submission order under the
// given policy and calls onUnit after each unit of work (a group of batches
// for PolicyParallel, a single batch for PolicySequential). An onUnit error
// stops the run and is returned with the successes counted so far.
func (e *Engine) RunAllBatches(ctx context.Context, run *RunState, batches [][]transport.Recipient, p transport.Payload, opts *transport.SendOptions, b Batching, onUnit func() error) (int, error) {
	b = b.normalized()
	success := 0

	if b.Policy == PolicySequential {
		for i, batch := range batches {
			success += e.RunBatch(ctx, run, batch, p, opts)
			run.batchesDone(1)
			if onUnit != nil {
				if err := onUnit(); err != nil {
					return success, err
				}
			}
			if i < len(batches)-1 && b.Delay > 0 {
				// A cancelled wait is not fatal: remaining deliveries fail fast
				// and are still counted.
				_ = e.sleep(ctx, b.Delay)
			}
		}
		return success, nil
	}

	for i := 0; i < len(batches); i += b.ParallelLimit {
		group := batches[i:min(i+b.ParallelLimit, len(batches))]
		counts := make([]int, len(group))
		var g errgroup.Group
		for j, batch := range group {
			g.Go(func() error {
				counts[j] = e.RunBatch(ctx, run, batch, p, opts)
				return nil
			})
		}
		_ = g.Wait()
		for _, n := range counts {
			success += n
		}
		run.batchesDone(len(group))
		if onUnit != nil {
			if err := onUnit(); err != nil {
				return success, err
			}
		}
	}
	return success, nil
}
