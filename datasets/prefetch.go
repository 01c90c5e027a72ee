package datasets

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SourceFactory builds the batch source owned by one prefetch worker.
type SourceFactory func(worker int) (BatchSource, error)

// FromSources hands sources[i] to worker i. Pass the result of
// Generator.Flows so the workers split each pass between them instead of all
// drawing the same records.
func FromSources(sources []BatchSource) SourceFactory {
	return func(worker int) (BatchSource, error) {
		if worker < 0 || worker >= len(sources) {
			return nil, configErrorf("prefetcher", "no source for worker %d of %d", worker, len(sources))
		}
		return sources[worker], nil
	}
}

// Prefetcher runs one batch source per worker in the background and queues
// their batches in a channel of bounded capacity. Batches from different
// workers interleave in arrival order.
type Prefetcher struct {
	batches chan *BatchFlat
	cancel  context.CancelFunc
	group   *errgroup.Group
	ctx     context.Context
}

// NewPrefetcher starts workers producers. Each calls factory once and then
// pulls batches from its own source until ctx is cancelled, Close is called
// or a source fails.
func NewPrefetcher(ctx context.Context, factory SourceFactory, workers, queueSize int, log *zap.Logger) (*Prefetcher, error) {
	if workers <= 0 {
		return nil, configErrorf("prefetcher", "workers %d must be positive", workers)
	}
	if queueSize < 0 {
		return nil, configErrorf("prefetcher", "queue size %d must not be negative", queueSize)
	}
	if log == nil {
		log = zap.NewNop()
	}

	sources := make([]BatchSource, workers)
	for i := range sources {
		src, err := factory(i)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to create source for worker %d", i)
		}
		sources[i] = src
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	p := &Prefetcher{
		batches: make(chan *BatchFlat, queueSize),
		cancel:  cancel,
		group:   g,
		ctx:     gctx,
	}

	for i, src := range sources {
		g.Go(func() error {
			for {
				batch, err := src.Next()
				if err != nil {
					log.Error("prefetch worker stopped", zap.Int("worker", i), zap.String("source", src.Name()), zap.Error(err))
					return err
				}
				select {
				case <-gctx.Done():
					return nil
				case p.batches <- batch:
				}
			}
		})
	}
	return p, nil
}

// Next returns the next queued batch. After a worker fails, Next may still
// return batches that were already queued, then returns that worker's error.
func (p *Prefetcher) Next(ctx context.Context) (*BatchFlat, error) {
	select {
	case batch := <-p.batches:
		return batch, nil
	case <-p.ctx.Done():
		// Prefer batches that were already queued.
		select {
		case batch := <-p.batches:
			return batch, nil
		default:
		}
		if err := p.group.Wait(); err != nil {
			return nil, err
		}
		return nil, p.ctx.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the workers and waits for them. It returns the first worker
// error, if any.
func (p *Prefetcher) Close() error {
	p.cancel()
	return p.group.Wait()
}
