// Package runner drives the fetch-extract-normalize-upsert pipeline for a
// single source.
package runner

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/pricescan/pricescan-scraper/internal/normalize"
	"github.com/pricescan/pricescan-scraper/internal/scrape"
	"github.com/pricescan/pricescan-scraper/internal/telemetry"
)

// Config controls per-run behavior shared by all sources.
type Config struct {
	RequestTimeout time.Duration
	UserAgent      string
	// Jittered pause between queries within one run, so a run never
	// hammers the storefront.
	DelayMin time.Duration
	DelayMax time.Duration
}

// Runner owns one source's pipeline. Runs are sequential per source; the
// scheduler guarantees a source is never run concurrently with itself.
type Runner struct {
	source     scrape.SourceConfig
	fetcher    scrape.Fetcher
	extractor  scrape.Extractor
	normalizer *normalize.Normalizer
	sink       scrape.Sink
	clock      scrape.Clock
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Runner.
func New(
	source scrape.SourceConfig,
	fetcher scrape.Fetcher,
	extractor scrape.Extractor,
	normalizer *normalize.Normalizer,
	sink scrape.Sink,
	clock scrape.Clock,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		source:     source,
		fetcher:    fetcher,
		extractor:  extractor,
		normalizer: normalizer,
		sink:       sink,
		clock:      clock,
		cfg:        cfg,
		logger:     logger.With(zap.String("source", source.ID)),
	}
}

// Source returns the static configuration this runner was built for.
func (r *Runner) Source() scrape.SourceConfig {
	return r.source
}

// Run processes the given queries sequentially (falling back to the
// source's configured query set) and hands valid listings to the sink.
// Failures are contained per query and per item; Run never panics and only
// stops early on context cancellation.
func (r *Runner) Run(ctx context.Context, queries []string) scrape.RunResult {
	if len(queries) == 0 {
		queries = r.source.Queries
	}

	telemetry.IncActiveRuns()
	defer telemetry.DecActiveRuns()
	start := time.Now()

	result := scrape.RunResult{SourceID: r.source.ID}
	for i, query := range queries {
		if i > 0 {
			if err := r.pause(ctx); err != nil {
				result.Errors = append(result.Errors, err)
				break
			}
		}
		if ctx.Err() != nil {
			result.Errors = append(result.Errors, ctx.Err())
			break
		}
		r.runQuery(ctx, query, &result)
	}

	r.persist(ctx, &result)

	status := "succeeded"
	switch {
	case ctx.Err() != nil:
		status = "canceled"
	case result.AllFailed():
		status = "failed"
	}
	telemetry.ObserveRun(r.source.ID, status, time.Since(start))
	r.logger.Info("run finished",
		zap.String("status", status),
		zap.Int("listings", len(result.Listings)),
		zap.Int("dropped", result.Dropped),
		zap.Int("errors", len(result.Errors)),
	)
	return result
}

func (r *Runner) runQuery(ctx context.Context, query string, result *scrape.RunResult) {
	url := r.source.SearchURL(query)
	log := r.logger.With(zap.String("query", query), zap.String("url", url))

	content, err := r.fetcher.Fetch(ctx, url, scrape.FetchOptions{
		Timeout:   r.cfg.RequestTimeout,
		UserAgent: r.cfg.UserAgent,
	})
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("fetch failed", zap.Error(err))
			result.Errors = append(result.Errors, err)
		}
		return
	}

	raws, err := r.extractor.Extract(content)
	if err != nil {
		switch {
		case scrape.IsEmptyResult(err):
			// No matches for this query. Expected, not an error.
			log.Debug("no listings extracted")
		case scrape.IsMalformedDocument(err):
			// Likely a site layout change; surface loudly for operators.
			log.Error("document not parseable, selectors may be stale", zap.Error(err))
			result.Errors = append(result.Errors, err)
		default:
			log.Warn("extract failed", zap.Error(err))
			result.Errors = append(result.Errors, err)
		}
		return
	}

	observedAt := r.clock.Now()
	for _, raw := range raws {
		listing, ok := r.normalizer.Normalize(raw, r.source, observedAt)
		if !ok {
			result.Dropped++
			telemetry.ObserveListing(r.source.ID, telemetry.ListingDropped)
			continue
		}
		result.Listings = append(result.Listings, listing)
	}
	log.Debug("query processed", zap.Int("raw", len(raws)), zap.Int("valid", len(result.Listings)))
}

// persist hands listings to the sink. Sink failures are recorded but do not
// undo the run: partial persistence is acceptable in this pipeline.
func (r *Runner) persist(ctx context.Context, result *scrape.RunResult) {
	for _, listing := range result.Listings {
		err := r.sink.UpsertPrice(
			ctx,
			listing.ProductName,
			r.source.DisplayName,
			listing.Price,
			listing.Currency,
			listing.SourceID,
			listing.ObservedAt,
		)
		if err != nil {
			r.logger.Warn("sink upsert failed",
				zap.String("product", listing.ProductName),
				zap.Error(err),
			)
			result.Errors = append(result.Errors, err)
			telemetry.ObserveListing(r.source.ID, telemetry.ListingSinkErr)
			continue
		}
		telemetry.ObserveListing(r.source.ID, telemetry.ListingStored)
	}
}

// pause sleeps a random duration within the configured delay range,
// returning early if the context finishes. This is a cancellation safe
// point: Stop() interrupts a run here rather than mid-upsert.
func (r *Runner) pause(ctx context.Context) error {
	delay := r.cfg.DelayMin + randomJitter(r.cfg.DelayMax-r.cfg.DelayMin)
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
