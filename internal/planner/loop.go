package planner

import (
	"context"
	"sync"
	"time"

	"github.com/awaistahir/smart-heat/internal/store"
)

// Pending returns the next day window without a stored run covering it.
// Today is planned first, then tomorrow.
func (p *Planner) Pending(now time.Time, ahead time.Duration) (time.Time, time.Time, bool) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	runs, err := p.opts.Store.ListRuns(p.opts.Device, 10)
	if err != nil {
		p.log.WithError(err).Warn("reading stored runs")
	}

	for _, start := range []time.Time{today, today.AddDate(0, 0, 1)} {
		end := start.Add(ahead)
		if !covered(runs, start, end) {
			return start, end, true
		}
	}
	return time.Time{}, time.Time{}, false
}

func covered(runs []*store.Run, start, end time.Time) bool {
	for _, r := range runs {
		if !r.Start.After(start) && !r.End.Before(end) {
			return true
		}
	}
	return false
}

// Loop plans pending windows on every interval until ctx is done. Runs that
// fail, typically because tomorrow's prices are not published yet, are
// retried on the next tick.
func (p *Planner) Loop(ctx context.Context, wg *sync.WaitGroup, interval, ahead time.Duration) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		p.planPending(ctx, ahead)
		for {
			select {
			case <-ticker.C:
				p.planPending(ctx, ahead)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (p *Planner) planPending(ctx context.Context, ahead time.Duration) {
	start, end, ok := p.Pending(time.Now(), ahead)
	if !ok {
		p.log.Debug("schedule up to date")
		return
	}
	// Errors are logged and counted by Run
	_, _ = p.Run(ctx, start, end)
}
