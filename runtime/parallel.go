package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/sbl8/tinyengine/kernels"
	"github.com/sbl8/tinyengine/model"
)

// workerPanic carries a fatal error raised by a kernel on a worker goroutine
// back to the caller of ParallelForward.
type workerPanic struct {
	value any
}

func (p *workerPanic) Error() string {
	return fmt.Sprint(p.value)
}

// ParallelForward runs the operation nodes of o on a pool of workers. A node
// is dispatched once all of its inputs have completed, tracked by one atomic
// pending counter per node. Each output is written by exactly one kernel call
// and only read after it completes, so the results equal those of Forward.
//
// The only returned error is cancellation of ctx. A fatal error raised by a
// kernel is re-raised on the calling goroutine.
func ParallelForward(ctx context.Context, o *model.Order, workers int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	nodes := o.Nodes()
	if len(nodes) == 0 {
		return nil
	}
	workers = max(1, min(workers, len(nodes)))

	pending := make([]atomic.Int32, o.Graph().NodeCount())
	ready := make(chan *model.Node, len(nodes))
	for _, n := range nodes {
		pending[n.ID].Store(int32(len(n.Inputs)))
		if len(n.Inputs) == 0 {
			ready <- n
		}
	}

	var remaining atomic.Int64
	remaining.Store(int64(len(nodes)))

	g, ctx := errgroup.WithContext(ctx)
	for range workers {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &workerPanic{value: r}
				}
			}()

			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case n, ok := <-ready:
					if !ok {
						return nil
					}
					if n.Op != kernels.OpInput {
						kernels.Lookup(n.Op).Forward(n)
					}
					for _, c := range o.Consumers(n.ID) {
						if pending[c.ID].Add(-1) == 0 {
							ready <- c
						}
					}
					if remaining.Add(-1) == 0 {
						close(ready)
					}
				}
			}
		})
	}

	err := g.Wait()
	var p *workerPanic
	if errors.As(err, &p) {
		panic(p.value)
	}
	return err
}
