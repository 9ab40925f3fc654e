package sync

import (
	"context"
	"errors"
	"time"

	"github.com/tildaslashalef/ewsync/internal/account"
	"github.com/tildaslashalef/ewsync/internal/loggy"
	"golang.org/x/sync/errgroup"
)

// SyncAccounts runs passes for several accounts concurrently. Results keep
// the order of ids; an account that could not start has a nil result and
// its error in the returned map.
func (e *Engine) SyncAccounts(ctx context.Context, ids []string) ([]*Result, map[string]error) {
	results := make([]*Result, len(ids))
	errs := make([]error, len(ids))

	var g errgroup.Group
	for i, id := range ids {
		g.Go(func() error {
			results[i], errs[i] = e.SyncAccount(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	failed := make(map[string]error)
	for i, err := range errs {
		if err != nil {
			failed[ids[i]] = err
		}
	}
	return results, failed
}

// Scheduler starts autosync passes for accounts that are due
type Scheduler struct {
	engine   *Engine
	accounts account.Store
	tick     time.Duration
	logger   *loggy.Logger
	now      func() time.Time
}

// NewScheduler creates an autosync scheduler checking every tick
func NewScheduler(engine *Engine, accounts account.Store, tick time.Duration, logger *loggy.Logger) *Scheduler {
	if tick <= 0 {
		tick = time.Minute
	}
	return &Scheduler{
		engine:   engine,
		accounts: accounts,
		tick:     tick,
		logger:   logger,
		now:      time.Now,
	}
}

// Run checks for due accounts until ctx is done
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("Autosync scheduler started", "tick", s.tick)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("Autosync check failed", "error", err)
		}

		select {
		case <-ctx.Done():
			s.logger.Info("Autosync scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce syncs every account due at this moment and waits for the passes
func (s *Scheduler) RunOnce(ctx context.Context) ([]*Result, error) {
	accounts, err := s.accounts.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var due []string
	for _, acct := range accounts {
		if acct.AutosyncDue(now) {
			due = append(due, acct.ID)
		}
	}
	if len(due) == 0 {
		return nil, nil
	}

	s.logger.Debug("Autosync accounts due", "count", len(due))
	results, failed := s.engine.SyncAccounts(ctx, due)
	for id, err := range failed {
		if errors.Is(err, ErrSyncInProgress) {
			continue
		}
		s.logger.Warn("Autosync pass did not start", "account_id", id, "error", err)
	}

	var done []*Result
	for _, r := range results {
		if r != nil {
			done = append(done, r)
		}
	}
	return done, nil
}
