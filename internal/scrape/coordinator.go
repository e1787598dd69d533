// Package scrape implements the concurrent source-aggregation coordinator:
// it fans sources out to isolated extraction tasks, applies retry with
// exponential backoff, and merges the surviving results into one ordered,
// validated collection with a tri-state status.
package scrape

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ballardtrucks/roundup/internal/adapter"
	"github.com/ballardtrucks/roundup/internal/errclass"
	"github.com/ballardtrucks/roundup/internal/progress"
	"github.com/ballardtrucks/roundup/internal/retry"
	"github.com/ballardtrucks/roundup/internal/schedule"
)

// Config controls coordinator concurrency and per-source retry behavior.
type Config struct {
	// MaxConcurrent bounds the number of sources scraped in parallel.
	MaxConcurrent int
	// SourceTimeout bounds each extraction attempt for one source.
	SourceTimeout time.Duration
	// Retry is the per-source attempt policy.
	Retry retry.Config
}

const (
	defaultMaxConcurrent = 5
	defaultSourceTimeout = 60 * time.Second
)

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = defaultMaxConcurrent
	}
	if c.SourceTimeout <= 0 {
		c.SourceTimeout = defaultSourceTimeout
	}
	return c
}

// Outcome is the single result of processing one source: either its
// extracted events or the classified cause of its failure. Exactly one
// Outcome exists per input source per run.
type Outcome struct {
	Source schedule.Source
	Events []schedule.Event
	Err    error
	Kind   errclass.Kind
}

// Failed reports whether the outcome is a failure.
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// Coordinator orchestrates one concurrent extraction task per source.
type Coordinator struct {
	resolver adapter.Resolver
	cfg      Config
	emitter  progress.Emitter
	logger   *zap.Logger
}

// New constructs a Coordinator. The emitter and logger may be nil.
func New(resolver adapter.Resolver, cfg Config, emitter progress.Emitter, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		resolver: resolver,
		cfg:      cfg.withDefaults(),
		emitter:  emitter,
		logger:   logger,
	}
}

// Run scrapes all sources and returns the merged result. No source failure
// ever propagates out of the run: each source yields exactly one Outcome,
// and cancellation of ctx converts still-pending sources into
// retryable-timeout failures while the run still returns a well-formed
// result. Tasks are dispatched in input order; the result is sorted
// deterministically after all tasks terminate.
func (c *Coordinator) Run(ctx context.Context, sources []schedule.Source) Result {
	runID := uuid.New()
	start := time.Now()
	c.emit(progress.Event{RunID: runID, TS: start.UTC(), Stage: progress.StageRunStart})
	c.logger.Info("run started", zap.String("run_id", runID.String()), zap.Int("sources", len(sources)))

	outcomes := make([]Outcome, len(sources))
	sem := make(chan struct{}, c.cfg.MaxConcurrent)
	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src schedule.Source) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				outcomes[i] = c.cancelledOutcome(runID, src)
				return
			}
			outcomes[i] = c.scrapeSource(ctx, runID, src)
		}(i, src)
	}
	wg.Wait()

	result := Aggregate(outcomes)
	c.emit(progress.Event{
		RunID:  runID,
		TS:     time.Now().UTC(),
		Stage:  progress.StageRunDone,
		Events: len(result.Events),
		Dur:    time.Since(start),
	})
	c.logger.Info("run finished",
		zap.String("run_id", runID.String()),
		zap.String("status", result.Status.String()),
		zap.Int("events", len(result.Events)),
		zap.Int("failures", len(result.Failures)),
		zap.Duration("dur", time.Since(start)),
	)
	return result
}

func (c *Coordinator) scrapeSource(ctx context.Context, runID uuid.UUID, src schedule.Source) (out Outcome) {
	start := time.Now()
	c.emit(progress.Event{RunID: runID, TS: start.UTC(), Stage: progress.StageSourceStart, SourceKey: src.Key})

	// An adapter must never be able to crash the run.
	defer func() {
		if r := recover(); r != nil {
			err := &errclass.ExtractError{Reason: fmt.Sprintf("adapter panic: %v", r)}
			out = c.failureOutcome(runID, src, err, start)
		}
	}()

	ad, err := c.resolver.Resolve(src.Adapter)
	if err != nil {
		// Broken configuration: fail immediately, no attempts spent.
		return c.failureOutcome(runID, src, err, start)
	}

	retryCfg := c.cfg.Retry
	retryCfg.AttemptTimeout = c.cfg.SourceTimeout
	attempt := 0
	events, err := retry.Do(ctx, retryCfg, func(attemptCtx context.Context) ([]schedule.Event, error) {
		attempt++
		if attempt > 1 {
			c.emit(progress.Event{
				RunID:     runID,
				TS:        time.Now().UTC(),
				Stage:     progress.StageSourceRetry,
				SourceKey: src.Key,
				Attempt:   attempt,
			})
		}
		return ad.Extract(attemptCtx, src)
	})
	if err != nil {
		return c.failureOutcome(runID, src, err, start)
	}

	c.emit(progress.Event{
		RunID:     runID,
		TS:        time.Now().UTC(),
		Stage:     progress.StageSourceDone,
		SourceKey: src.Key,
		Events:    len(events),
		Dur:       time.Since(start),
	})
	c.logger.Debug("source scraped",
		zap.String("source", src.Key),
		zap.Int("events", len(events)),
		zap.Int("attempts", attempt),
	)
	return Outcome{Source: src, Events: events}
}

func (c *Coordinator) failureOutcome(runID uuid.UUID, src schedule.Source, err error, start time.Time) Outcome {
	kind := errclass.Classify(err)
	c.emit(progress.Event{
		RunID:     runID,
		TS:        time.Now().UTC(),
		Stage:     progress.StageSourceError,
		SourceKey: src.Key,
		Cause:     kind.String(),
		Dur:       time.Since(start),
	})
	c.logger.Warn("source failed",
		zap.String("source", src.Key),
		zap.String("kind", kind.String()),
		zap.Error(err),
	)
	return Outcome{Source: src, Err: err, Kind: kind}
}

func (c *Coordinator) cancelledOutcome(runID uuid.UUID, src schedule.Source) Outcome {
	err := fmt.Errorf("run deadline elapsed before source was scraped: %w", context.DeadlineExceeded)
	return c.failureOutcome(runID, src, err, time.Now())
}

func (c *Coordinator) emit(evt progress.Event) {
	if c.emitter == nil {
		return
	}
	c.emitter.Emit(evt)
}
