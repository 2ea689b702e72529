/*
scheduler.go - Automated payment generation scheduler

PURPOSE:
  Periodically generates the pending payments of the current billing period
  so households see their dues without an operator pressing a button.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each tick generates the current month (overwrite=false)
  - In January it also generates the current year's yearly batch (hygiene)
  - Re-running is harmless: existing payments are skipped, so every tick
    after the first in a period creates nothing
  - A category without policies (ConfigurationError) is logged, not fatal

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active

USAGE:
  scheduler := NewGenerationScheduler(engine)
  scheduler.Start(ctx)
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: GeneratePayments endpoint (manual generation)
  - billing/generator.go: Generate / GenerateYearly
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/fee-engine/billing"
)

// GenerationScheduler runs bulk generation on a timer.
type GenerationScheduler struct {
	Engine        *billing.Engine
	CheckInterval time.Duration
	Enabled       bool
	Logger        *slog.Logger

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex // guards ticker and stop
	runMu   sync.Mutex
	lastMu  sync.Mutex
	lastRun time.Time
}

// NewGenerationScheduler creates a new scheduler.
func NewGenerationScheduler(engine *billing.Engine) *GenerationScheduler {
	return &GenerationScheduler{
		Engine:        engine,
		CheckInterval: time.Hour,
		Enabled:       true,
		Logger:        slog.Default(),
	}
}

// Start begins the scheduler. ctx bounds every run.
func (s *GenerationScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("generation scheduler disabled")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(ctx, s.ticker, s.stop)

	s.Logger.Info("generation scheduler started", "interval", s.CheckInterval)
}

// Stop stops the scheduler and waits for a running batch to finish.
func (s *GenerationScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.Logger.Info("generation scheduler stopped")
	}
}

func (s *GenerationScheduler) run(ctx context.Context, ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	// Run immediately on start
	s.RunNow(ctx)

	for {
		select {
		case <-ticker.C:
			s.RunNow(ctx)
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunNow generates the current period(s) and returns the reports produced.
// Concurrent calls are serialized.
func (s *GenerationScheduler) RunNow(ctx context.Context) []*billing.GenerationReport {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	now := s.now()
	var reports []*billing.GenerationReport

	if r := s.runBatch(ctx, billing.Monthly, now); r != nil {
		reports = append(reports, r)
	}
	if s.Engine.Normalizer.Canonicalize(now, billing.Monthly).Month() == time.January {
		if r := s.runBatch(ctx, billing.Yearly, now); r != nil {
			reports = append(reports, r)
		}
	}

	s.lastMu.Lock()
	s.lastRun = now
	s.lastMu.Unlock()
	return reports
}

func (s *GenerationScheduler) runBatch(ctx context.Context, g billing.Granularity, now time.Time) *billing.GenerationReport {
	req := billing.GenerateRequest{Period: now, Quiet: true}
	var (
		report *billing.GenerationReport
		err    error
	)
	if g == billing.Yearly {
		report, err = s.Engine.GenerateYearly(ctx, req)
	} else {
		report, err = s.Engine.Generate(ctx, req)
	}
	switch {
	case err == nil:
		if report.Created > 0 || report.Errors > 0 {
			s.Logger.Info("scheduled generation",
				"granularity", string(g),
				"period", report.Period.Key(),
				"created", report.Created,
				"errors", report.Errors)
		}
		return report
	case billing.IsConfiguration(err):
		s.Logger.Warn("scheduled generation skipped", "granularity", string(g), "error", err)
	default:
		s.Logger.Error("scheduled generation failed", "granularity", string(g), "error", err)
	}
	return nil
}

func (s *GenerationScheduler) now() time.Time {
	if s.Engine.Now != nil {
		return s.Engine.Now()
	}
	return time.Now()
}

// LastRunTime returns when the last run started, zero if never.
func (s *GenerationScheduler) LastRunTime() time.Time {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	return s.lastRun
}

// NextRunTime returns when the next scheduled check will occur.
func (s *GenerationScheduler) NextRunTime() time.Time {
	last := s.LastRunTime()
	if last.IsZero() {
		return time.Now()
	}
	return last.Add(s.CheckInterval)
}
