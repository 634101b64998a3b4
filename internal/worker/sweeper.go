// Package worker runs the periodic auction lifecycle and outbox sweeps.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bidhall/bidhall-api/internal/config"
	"github.com/robfig/cron/v3"
)

// retryBatch bounds how many outbox rows one tick re-delivers
const retryBatch = 100

// Lifecycle opens and closes auctions whose window boundaries have passed
type Lifecycle interface {
	OpenStartedAuctions(ctx context.Context) ([]string, error)
	CloseEndedAuctions(ctx context.Context, workers int) (int, error)
}

// Outbox re-delivers notifications that failed or were left unsent
type Outbox interface {
	RetryNotifications(ctx context.Context, limit int) (int, error)
}

// TickResult summarises one sweep
type TickResult struct {
	Opened  int
	Closed  int
	Retried int
}

// Sweeper drives auctions through their lifecycle on a cron schedule and
// retries outbox deliveries. A tick that is still running when the next one
// is due causes that next one to be skipped.
type Sweeper struct {
	lifecycle   Lifecycle
	outbox      Outbox
	logger      *slog.Logger
	schedule    string
	concurrency int
	timeout     time.Duration
	cron        *cron.Cron
}

// NewSweeper creates a Sweeper from the worker configuration
func NewSweeper(lifecycle Lifecycle, outbox Outbox, cfg config.WorkerConfig, logger *slog.Logger) *Sweeper {
	concurrency := cfg.CloseConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Sweeper{
		lifecycle:   lifecycle,
		outbox:      outbox,
		logger:      logger,
		schedule:    cfg.Schedule,
		concurrency: concurrency,
		timeout:     time.Minute,
		cron:        cron.New(cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
}

// Start schedules the sweep and returns immediately. The sweep stops when ctx
// is cancelled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		tickCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		if _, err := s.Tick(tickCtx); err != nil {
			s.logger.Error("sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid worker schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.logger.Info("sweeper started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop removes the schedule and waits for a running tick to finish
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Tick runs one sweep: open started auctions, close ended ones, then retry
// pending notifications. Every step runs even if an earlier one failed.
func (s *Sweeper) Tick(ctx context.Context) (TickResult, error) {
	var res TickResult
	var errs []error

	opened, err := s.lifecycle.OpenStartedAuctions(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("open auctions: %w", err))
	}
	res.Opened = len(opened)

	res.Closed, err = s.lifecycle.CloseEndedAuctions(ctx, s.concurrency)
	if err != nil {
		errs = append(errs, fmt.Errorf("close auctions: %w", err))
	}

	res.Retried, err = s.outbox.RetryNotifications(ctx, retryBatch)
	if err != nil {
		errs = append(errs, fmt.Errorf("retry notifications: %w", err))
	}

	if res.Opened > 0 || res.Closed > 0 || res.Retried > 0 {
		s.logger.Info("sweep complete", "opened", res.Opened, "closed", res.Closed, "retried", res.Retried)
	}
	return res, errors.Join(errs...)
}
