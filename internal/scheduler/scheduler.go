// Package scheduler decides when each source runs and fans the work out
// over a bounded pool.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pricescan/pricescan-scraper/internal/scrape"
)

// Defaults mirroring the scheduling behavior of the original service.
const (
	DefaultTickInterval         = 60 * time.Second
	DefaultShutdownGrace        = 5 * time.Second
	DefaultMaxConsecutiveErrors = 5
	DefaultErrorCooldown        = 5 * time.Minute
	maxWorkersCap               = 4
)

// SourceRunner is the unit of work the scheduler dispatches.
type SourceRunner interface {
	Source() scrape.SourceConfig
	Run(ctx context.Context, queries []string) scrape.RunResult
}

// Config controls scheduling behavior.
type Config struct {
	TickInterval         time.Duration
	MaxWorkers           int
	ShutdownGrace        time.Duration
	MaxConsecutiveErrors int
	ErrorCooldown        time.Duration
}

func (c Config) withDefaults(numSources int) Config {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = min(numSources, maxWorkersCap)
		if c.MaxWorkers == 0 {
			c.MaxWorkers = 1
		}
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}
	if c.ErrorCooldown <= 0 {
		c.ErrorCooldown = DefaultErrorCooldown
	}
	return c
}

// runState is the mutable scheduling state for one source. It lives in
// memory only and is rebuilt on process restart.
type runState struct {
	lastRunAt         *time.Time
	consecutiveErrors int
	inCooldownUntil   *time.Time
	running           bool
}

// Scheduler owns the set of source runners and their run state. State is
// mutated only while holding mu, and only after a run returns; workers
// never touch it mid-flight.
type Scheduler struct {
	cfg    Config
	clock  scrape.Clock
	logger *zap.Logger

	mu      sync.Mutex
	runners map[string]SourceRunner
	states  map[string]*runState
	started bool
	cancel  context.CancelFunc

	sem    chan struct{}
	loopWG sync.WaitGroup
	runWG  sync.WaitGroup
}

// New constructs a Scheduler over the given runners.
func New(runners []SourceRunner, clock scrape.Clock, cfg Config, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	byID := make(map[string]SourceRunner, len(runners))
	for _, r := range runners {
		byID[r.Source().ID] = r
	}
	return &Scheduler{
		cfg:     cfg.withDefaults(len(byID)),
		clock:   clock,
		logger:  logger,
		runners: byID,
		states:  make(map[string]*runState, len(byID)),
	}
}

// Start initializes run state and begins the tick loop. The first pass
// over all due sources happens immediately, before the steady-state loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("scheduler already started")
	}
	s.started = true
	s.states = make(map[string]*runState, len(s.runners))
	for id := range s.runners {
		s.states[id] = &runState{}
	}
	s.sem = make(chan struct{}, s.cfg.MaxWorkers)
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Info("scheduler starting",
		zap.Int("sources", len(s.runners)),
		zap.Int("max_workers", s.cfg.MaxWorkers),
		zap.Duration("tick_interval", s.cfg.TickInterval),
	)

	s.loopWG.Add(1)
	go s.loop(ctx)
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.loopWG.Done()

	// Initial scraping pass.
	s.dispatchDue(ctx)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatchDue(ctx)
		}
	}
}

// dispatchDue submits every due source to the worker pool.
func (s *Scheduler) dispatchDue(ctx context.Context) {
	now := s.clock.Now()

	s.mu.Lock()
	var due []SourceRunner
	for id, r := range s.runners {
		state := s.states[id]
		if !s.isDue(r.Source(), state, now) {
			continue
		}
		state.running = true
		due = append(due, r)
	}
	s.mu.Unlock()

	for _, r := range due {
		s.runWG.Add(1)
		go func(r SourceRunner) {
			defer s.runWG.Done()
			select {
			case s.sem <- struct{}{}:
			case <-ctx.Done():
				s.clearRunning(r.Source().ID)
				return
			}
			defer func() { <-s.sem }()

			result := r.Run(ctx, nil)
			s.finishRun(r.Source().ID, result)
		}(r)
	}
}

// isDue applies the scheduling predicate. Caller holds mu.
func (s *Scheduler) isDue(source scrape.SourceConfig, state *runState, now time.Time) bool {
	if !source.Enabled || state == nil || state.running {
		return false
	}
	if state.inCooldownUntil != nil && now.Before(*state.inCooldownUntil) {
		return false
	}
	if state.lastRunAt != nil && now.Before(state.lastRunAt.Add(source.Interval)) {
		return false
	}
	return true
}

func (s *Scheduler) clearRunning(sourceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.states[sourceID]; ok {
		state.running = false
	}
}

// finishRun folds a run result into scheduling state. A fully failed run
// bumps the consecutive-error count and, at the threshold, parks the
// source in cooldown; any success resets both.
func (s *Scheduler) finishRun(sourceID string, result scrape.RunResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[sourceID]
	if !ok {
		return
	}
	now := s.clock.Now()
	state.running = false
	state.lastRunAt = &now

	if result.AllFailed() {
		state.consecutiveErrors++
		if state.consecutiveErrors >= s.cfg.MaxConsecutiveErrors {
			until := now.Add(s.cfg.ErrorCooldown)
			state.inCooldownUntil = &until
			s.logger.Warn("source entering cooldown",
				zap.String("source", sourceID),
				zap.Int("consecutive_errors", state.consecutiveErrors),
				zap.Time("until", until),
			)
		}
		return
	}
	state.consecutiveErrors = 0
	state.inCooldownUntil = nil
}

// Stop signals the tick loop to exit and waits for in-flight runs up to
// the grace period. Runs still going after that are abandoned; they hold
// a canceled context and unwind at their next safe point.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		s.loopWG.Wait()
		s.runWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("scheduler stopped")
	case <-time.After(s.cfg.ShutdownGrace):
		s.logger.Warn("shutdown grace elapsed, abandoning in-flight runs")
	}
}

// ManualTrigger runs one source immediately for a single query, bypassing
// the due check and cooldown. The run is synchronous and still bounded by
// the worker pool.
func (s *Scheduler) ManualTrigger(ctx context.Context, sourceID, query string) (scrape.RunResult, error) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return scrape.RunResult{}, errors.New("scheduler is not running")
	}
	r, ok := s.runners[sourceID]
	if !ok {
		s.mu.Unlock()
		return scrape.RunResult{}, fmt.Errorf("unknown source %q", sourceID)
	}
	state := s.states[sourceID]
	if state.running {
		s.mu.Unlock()
		return scrape.RunResult{}, fmt.Errorf("source %q is already running", sourceID)
	}
	state.running = true
	s.mu.Unlock()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		s.clearRunning(sourceID)
		return scrape.RunResult{}, fmt.Errorf("manual trigger canceled: %w", ctx.Err())
	}
	defer func() { <-s.sem }()

	var queries []string
	if query != "" {
		queries = []string{query}
	}
	result := r.Run(ctx, queries)
	s.finishRun(sourceID, result)
	return result, nil
}

// Running reports whether the scheduler has been started and not stopped.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Status returns a read-only snapshot of every source's scheduling state.
func (s *Scheduler) Status() map[string]scrape.SourceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]scrape.SourceStatus, len(s.runners))
	for id, r := range s.runners {
		source := r.Source()
		status := scrape.SourceStatus{
			ID:          id,
			DisplayName: source.DisplayName,
			Enabled:     source.Enabled,
			Interval:    source.Interval,
		}
		if state, ok := s.states[id]; ok {
			if state.lastRunAt != nil {
				last := *state.lastRunAt
				status.LastRunAt = &last
			}
			if state.inCooldownUntil != nil {
				until := *state.inCooldownUntil
				status.InCooldownUntil = &until
			}
			status.ConsecutiveErrors = state.consecutiveErrors
			status.Running = state.running
		}
		out[id] = status
	}
	return out
}
