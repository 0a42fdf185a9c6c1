// Package coordinator fans review extraction out across products under a
// bounded worker budget. Concurrency is across products only; each worker
// drives one extraction sequentially.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lfzhong/amazon-web-scrawler/internal/models"
	"github.com/lfzhong/amazon-web-scrawler/internal/ratelimit"
	"github.com/lfzhong/amazon-web-scrawler/internal/scraper"
)

// Extractor is the per-product extraction the coordinator schedules.
type Extractor interface {
	Extract(ctx context.Context, candidate models.ProductCandidate, opts scraper.Options) models.ExtractionResult
}

type Options struct {
	// Workers caps simultaneously active extractions. Zero means 2.
	Workers int
	// ProductTimeout bounds one product's total extraction time. Zero disables it.
	ProductTimeout time.Duration
}

type Coordinator struct {
	extractor Extractor
	limiter   ratelimit.Limiter
	opts      Options
	logger    *slog.Logger
}

func New(extractor Extractor, limiter ratelimit.Limiter, opts Options, logger *slog.Logger) *Coordinator {
	if opts.Workers < 1 {
		opts.Workers = 2
	}
	return &Coordinator{
		extractor: extractor,
		limiter:   limiter,
		opts:      opts,
		logger:    logger.With("component", "coordinator"),
	}
}

// Run extracts reviews for every candidate and returns results in candidate
// order regardless of completion order. A worker's timeout or failure is
// recorded in its slot without disturbing siblings; cancelling ctx stops the
// outstanding workers and the slots they never finished are marked failed.
func (c *Coordinator) Run(ctx context.Context, candidates []models.ProductCandidate, opts scraper.Options) []models.ExtractionResult {
	results := make([]models.ExtractionResult, len(candidates))

	sem := make(chan struct{}, c.opts.Workers)
	var wg sync.WaitGroup

	for i, candidate := range candidates {
		wg.Add(1)
		go func(idx int, cand models.ProductCandidate) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = cancelledResult(cand)
				return
			}

			// Space out worker launches so navigations do not burst.
			if c.limiter != nil {
				if err := c.limiter.Wait(ctx); err != nil {
					results[idx] = cancelledResult(cand)
					return
				}
			}

			workerCtx := ctx
			if c.opts.ProductTimeout > 0 {
				var cancel context.CancelFunc
				workerCtx, cancel = context.WithTimeout(ctx, c.opts.ProductTimeout)
				defer cancel()
			}

			c.logger.Info("worker started", "index", idx, "url", cand.URL)
			results[idx] = c.extractor.Extract(workerCtx, cand, opts)
			c.logger.Info("worker finished", "index", idx,
				"success", results[idx].Success, "reviews", results[idx].ReviewCount)
		}(i, candidate)
	}

	wg.Wait()
	return results
}

func cancelledResult(cand models.ProductCandidate) models.ExtractionResult {
	return models.ExtractionResult{
		Candidate:     cand,
		Success:       false,
		FailureReason: scraper.ReasonTimeout,
	}
}
