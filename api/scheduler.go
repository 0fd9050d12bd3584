/*
scheduler.go - Automated monthly close

PURPOSE:
  Periodically bills the previous calendar month and confirms the run when
  it priced any event not billed yet. Confirming marks the events billed
  and persists the funding ledger, so the next month starts from the right
  consumption and no event consumes a funding twice.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - The previous month is computed in the billing time zone
  - Nothing is confirmed when every event is already billed, whether by
    hand, partially or by an earlier tick
  - Unbilled events from earlier months are picked up retroactively
  - A failed run, or a customer skipped by the run, is retried at the next tick

CONFIGURATION:
  - billing.auto_close:     Whether the scheduler is started (default: false)
  - billing.close_interval: How often to check (default: 1 hour)

USAGE:
  scheduler := NewCloseScheduler(handler, time.Hour)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ConfirmDraftBills endpoint (manual close)
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/warp/care-billing/billing"
	"github.com/warp/care-billing/generic"
	"github.com/warp/care-billing/store/sqlite"
)

// CloseScheduler confirms the previous month's draft bills.
type CloseScheduler struct {
	Handler       *Handler
	CheckInterval time.Duration

	// Now is the clock; replaced in tests.
	Now func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewCloseScheduler creates a scheduler checking every interval.
func NewCloseScheduler(h *Handler, interval time.Duration) *CloseScheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &CloseScheduler{
		Handler:       h,
		CheckInterval: interval,
		Now:           time.Now,
	}
}

// Start begins the scheduler.
func (cs *CloseScheduler) Start() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.ticker != nil {
		return
	}
	cs.ticker = time.NewTicker(cs.CheckInterval)
	cs.stop = make(chan struct{})
	cs.wg.Add(1)
	go cs.run()

	cs.Handler.Logger.Info().Dur("interval", cs.CheckInterval).Msg("close scheduler started")
}

// Stop stops the scheduler and waits for a check in progress.
func (cs *CloseScheduler) Stop() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.ticker == nil {
		return
	}
	cs.ticker.Stop()
	close(cs.stop)
	cs.wg.Wait()
	cs.ticker = nil
	cs.Handler.Logger.Info().Msg("close scheduler stopped")
}

func (cs *CloseScheduler) run() {
	defer cs.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-cs.stop
		cancel()
	}()

	// Run immediately on start
	cs.check(ctx)

	for {
		select {
		case <-cs.ticker.C:
			cs.check(ctx)
		case <-cs.stop:
			return
		}
	}
}

func (cs *CloseScheduler) check(ctx context.Context) {
	rec, closed, err := cs.CloseNow(ctx)
	logger := cs.Handler.Logger
	switch {
	case err != nil:
		logger.Error().Err(err).Msg("monthly close failed")
	case closed:
		logger.Info().
			Str("run_id", rec.ID).
			Time("period_start", rec.PeriodStart).
			Int("bills", rec.Bills).
			Msg("monthly close confirmed")
	default:
		logger.Debug().Msg("nothing left to bill")
	}
}

// PreviousMonth returns the month before now, in the billing time zone.
func (cs *CloseScheduler) PreviousMonth() generic.Period {
	now := cs.Now().In(cs.Handler.Location)
	return generic.MonthPeriod(generic.StartOfMonth(now).AddDate(0, -1, 0))
}

// CloseNow bills the previous month and confirms the run unless it priced
// nothing. It reports whether a run was confirmed.
func (cs *CloseScheduler) CloseNow(ctx context.Context) (sqlite.RunRecord, bool, error) {
	h := cs.Handler
	period := cs.PreviousMonth()

	out, err := h.Assembler.Run(ctx, billing.Request{Period: period})
	if err != nil {
		return sqlite.RunRecord{}, false, fmt.Errorf("close %s: %w", generic.MonthKey(period.Start), err)
	}
	if len(out.EventIDs) == 0 {
		return sqlite.RunRecord{}, false, nil
	}
	rec, err := h.Store.ConfirmRun(ctx, h.NewRunID(), out)
	if err != nil {
		return sqlite.RunRecord{}, false, fmt.Errorf("close %s: %w", generic.MonthKey(period.Start), err)
	}
	return rec, true, nil
}
