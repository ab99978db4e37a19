// Package scheduler runs the weekly allowance reset.
//
// The scheduler is a background, time-driven process: it fires once per week
// at a fixed UTC instant and replenishes every account's weekly allowance to
// its plan's entitlement. The effect is idempotent per account (guarded by
// the recorded week start), so a missed firing, a duplicate firing from a
// second instance, or a manual re-trigger all converge to the same state.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DukeRupert/tutorbook/internal/domain"
	"github.com/DukeRupert/tutorbook/internal/metrics"
	"github.com/DukeRupert/tutorbook/internal/repository"
)

// Store is the slice of the storage layer the reset needs.
type Store interface {
	ListAccountsDueReset(ctx context.Context, weekStart time.Time, afterID uuid.UUID, limit int) ([]repository.AccountRef, error)
	ResetWeek(ctx context.Context, id uuid.UUID, weekStart time.Time, allowance int) (bool, error)
}

// AllowanceTable resolves plans to weekly allowances.
type AllowanceTable interface {
	Allowance(domain.Plan) int
}

// Stats summarizes one reset pass. There is no caller contract beyond
// observability: the pass logs and records these counts.
type Stats struct {
	Updated int // accounts replenished
	Skipped int // accounts already current for this week
	Failed  int // accounts that errored; the next firing retries them
}

// Scheduler fires the weekly reset.
type Scheduler struct {
	store  Store
	table  AllowanceTable
	config Config
	logger *slog.Logger
	now    func() time.Time

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// New creates a Scheduler. It must be started with Start() and stopped with
// Stop().
func New(store Store, table AllowanceTable, config Config, logger *slog.Logger) (*Scheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{
		store:  store,
		table:  table,
		config: config,
		logger: logger,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}, nil
}

// Start launches the scheduler goroutine. It runs one pass immediately to
// catch up on any boundary crossed while the process was down, then sleeps
// until each subsequent weekly instant.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
	s.logger.Info("weekly reset scheduler started",
		"weekday", s.config.Weekday.String(),
		"hour_utc", s.config.Hour,
	)
}

// Stop signals the scheduler to stop and waits for an in-flight pass, up to
// the configured ShutdownTimeout.
func (s *Scheduler) Stop() {
	close(s.stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("weekly reset scheduler stopped")
	case <-time.After(s.config.ShutdownTimeout):
		s.logger.Warn("weekly reset scheduler shutdown timeout exceeded")
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	// Catch-up pass: if the boundary passed while the process was down,
	// accounts are behind and this converges them. If not, every account is
	// skipped and the pass is a cheap no-op.
	s.firePass(ctx)

	for {
		next := domain.NextWeekStart(s.now(), s.config.Weekday, s.config.Hour)
		timer := time.NewTimer(next.Sub(s.now()))

		select {
		case <-s.stopCh:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.firePass(ctx)
		}
	}
}

func (s *Scheduler) firePass(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, s.config.RunTimeout)
	defer cancel()

	weekStart := domain.WeekStart(s.now(), s.config.Weekday, s.config.Hour)
	if _, err := s.RunOnce(runCtx, weekStart); err != nil {
		s.logger.Error("weekly reset pass failed", "error", err, "week_start", weekStart)
	}
}

// RunOnce executes a single reset pass for the given week start. It is safe
// to call at any time, from a second instance, or from the admin CLI: the
// per-account guard makes repeats no-ops.
func (s *Scheduler) RunOnce(ctx context.Context, weekStart time.Time) (Stats, error) {
	start := s.now()
	var stats Stats
	var afterID uuid.UUID

	for {
		refs, err := s.store.ListAccountsDueReset(ctx, weekStart, afterID, s.config.BatchSize)
		if err != nil {
			return stats, err
		}
		if len(refs) == 0 {
			break
		}

		for _, ref := range refs {
			updated, err := s.store.ResetWeek(ctx, ref.ID, weekStart, s.table.Allowance(ref.Plan))
			switch {
			case err != nil:
				stats.Failed++
				s.logger.Error("failed to reset account week",
					"account_id", ref.ID,
					"error", err,
				)
			case updated:
				stats.Updated++
			default:
				// Raced with a concurrent reset or an activation that
				// already advanced the week.
				stats.Skipped++
			}
		}
		afterID = refs[len(refs)-1].ID
	}

	duration := s.now().Sub(start)
	metrics.WeeklyResetRun(duration, stats.Updated, stats.Skipped, stats.Failed)
	s.logger.Info("weekly reset pass complete",
		"week_start", weekStart,
		"updated", stats.Updated,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
		"duration_ms", duration.Milliseconds(),
	)
	return stats, nil
}
