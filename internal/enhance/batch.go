package enhance

import (
	"context"
	"runtime/debug"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"

	"claudeindex/internal/entry"
	"claudeindex/internal/logging"
)

// Processor runs the single-entry enhancement subroutines - topic
// detection, solution classification, quality scoring, and feedback
// sentiment - over a batch of entries with bounded concurrency
// (batch-level parallelism is allowed; per-entry derivation itself stays
// pure and synchronous per spec.md §4.5).
type Processor struct {
	topics   []TopicPattern
	analyzer SemanticAnalyzer
	pool     *ants.Pool
}

// NewProcessor builds a Processor with a bounded worker pool of the given
// capacity. analyzer may be nil to run pattern-only feedback detection.
func NewProcessor(capacity int, analyzer SemanticAnalyzer) (*Processor, error) {
	if capacity <= 0 {
		capacity = 8
	}
	pool, err := ants.NewPool(capacity,
		ants.WithPanicHandler(func(r interface{}) {
			logging.EnhanceWarn("recovered panic in enhancement worker: %v\n%s", r, debug.Stack())
		}),
	)
	if err != nil {
		return nil, err
	}
	return &Processor{topics: DefaultTopics(), analyzer: analyzer, pool: pool}, nil
}

// Release frees the underlying worker pool.
func (p *Processor) Release() {
	p.pool.Release()
}

// One computes every derived field for a single entry, in the documented
// order (topic, then solution, then quality, then feedback): quality
// scoring reads fields solution classification sets, so the order is load
// bearing.
func (p *Processor) One(e *entry.Entry) {
	ApplyTopics(e, p.topics)
	ApplySolution(e)
	ApplyQuality(e)
	DetectFeedback(e, p.analyzer)
}

// Batch runs One over every entry in entries with bounded concurrency. It
// never fails the whole batch on a single entry's panic or error: a failing
// subroutine leaves that entry's derived fields at their zero value and the
// batch continues, matching spec.md §5's graceful-degradation policy.
//
// Submission happens through the errgroup-guarded ants.Pool rather than an
// unbounded go func() per entry, and every worker checks ctx before doing
// work so a cancelled sync stops spawning new enhancement work promptly.
func (p *Processor) Batch(ctx context.Context, entries []*entry.Entry) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, e := range entries {
		e := e
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			done := make(chan struct{})
			submitErr := p.pool.Submit(func() {
				defer close(done)
				func() {
					defer func() {
						if r := recover(); r != nil {
							logging.EnhanceWarn("entry %s: enhancement panic: %v", e.ID, r)
						}
					}()
					p.One(e)
				}()
			})
			if submitErr != nil {
				logging.EnhanceWarn("entry %s: pool submit failed: %v", e.ID, submitErr)
				return nil
			}

			select {
			case <-done:
			case <-gctx.Done():
				return gctx.Err()
			}
			return nil
		})
	}

	return g.Wait()
}
