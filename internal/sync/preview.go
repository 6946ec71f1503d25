package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JohanCodinha/aurora/internal/config"
	"github.com/JohanCodinha/aurora/internal/dedup"
	"github.com/JohanCodinha/aurora/internal/models"
)

// schedule arms the auto-confirm timer for id, replacing any existing one.
func (e *Engine) schedule(id string, delay time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	select {
	case <-e.stopCh:
		return
	default:
	}

	if t, ok := e.timers[id]; ok {
		t.Stop()
	}
	e.timers[id] = time.AfterFunc(delay, func() {
		e.mu.Lock()
		delete(e.timers, id)
		e.mu.Unlock()

		if _, err := e.ConfirmPreview(e.ctx, id); err != nil && !errors.Is(err, dedup.ErrNotPending) {
			log.Error("auto-sync of post %s failed: %v", id, err)
		}
	})
	log.Debug("preview timer started for %s (%s)", id, delay)
}

func (e *Engine) unschedule(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.timers[id]; ok {
		t.Stop()
		delete(e.timers, id)
	}
}

// PendingTimers returns the number of armed preview timers.
func (e *Engine) PendingTimers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.timers)
}

// ConfirmPreview syncs a pending preview entry now. The entry keeps its
// confirmed status until it expires.
func (e *Engine) ConfirmPreview(ctx context.Context, id string) (Result, error) {
	e.unschedule(id)

	entry, err := e.dedup.ConfirmPreview(id)
	if err != nil {
		return Result{}, err
	}
	post := entry.Post

	if !e.dedup.TryAcquire(post.ID) {
		return Result{Outcome: OutcomeInProgress, Preview: &entry}, nil
	}
	defer e.dedup.Release(post.ID)

	if e.dedup.IsSynced(post.ID) {
		return Result{Outcome: OutcomeAlreadySynced, Preview: &entry}, nil
	}

	log.Info("preview of post %s confirmed", post.ID)
	res, err := e.syncGuarded(ctx, post, config.Load(e.store))
	res.Preview = &entry
	return res, err
}

// SkipPreview drops a pending preview entry without syncing it.
func (e *Engine) SkipPreview(id string) (models.PreviewEntry, error) {
	e.unschedule(id)
	entry, err := e.dedup.SkipPreview(id)
	if err != nil {
		return entry, err
	}
	log.Info("preview of post %s skipped", id)
	return entry, nil
}

// ConfirmAll confirms every pending preview entry, pausing batchDelay after
// each batchSize entries. Per-entry failures are reported in the results.
func (e *Engine) ConfirmAll(ctx context.Context) ([]Result, error) {
	cfg := config.Load(e.store)

	var pending []models.PreviewEntry
	for _, entry := range e.dedup.ListPreview() {
		if entry.Status == models.PreviewPending {
			pending = append(pending, entry)
		}
	}

	size := max(cfg.BatchSize, 1)
	results := make([]Result, 0, len(pending))
	for i, entry := range pending {
		if i > 0 && i%size == 0 {
			if err := e.sleep(ctx, cfg.BatchDelayDuration()); err != nil {
				return results, err
			}
		}
		res, err := e.ConfirmPreview(ctx, entry.Post.ID)
		if err != nil {
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	return results, nil
}

// SkipAll skips every pending preview entry and returns how many it skipped.
func (e *Engine) SkipAll() (int, error) {
	skipped := 0
	for _, entry := range e.dedup.ListPreview() {
		if entry.Status != models.PreviewPending {
			continue
		}
		if _, err := e.SkipPreview(entry.Post.ID); err != nil {
			if errors.Is(err, dedup.ErrNotPending) {
				continue
			}
			return skipped, err
		}
		skipped++
	}
	return skipped, nil
}

// SweepPreview drops expired preview entries and confirms pending ones
// whose auto-sync time has passed, which covers timers lost to a restart.
func (e *Engine) SweepPreview(ctx context.Context) (PreviewReport, error) {
	var report PreviewReport
	now := e.dedup.Now()

	expired, err := e.dedup.CleanupPreview(now)
	if err != nil {
		return report, fmt.Errorf("failed to expire preview entries: %w", err)
	}
	report.Expired = expired

	var errs []error
	for _, entry := range e.dedup.DuePreview(now) {
		res, err := e.ConfirmPreview(ctx, entry.Post.ID)
		switch {
		case errors.Is(err, dedup.ErrNotPending), errors.Is(err, dedup.ErrNotFound):
			continue
		case err != nil:
			errs = append(errs, fmt.Errorf("post %s: %w", entry.Post.ID, err))
			continue
		}
		if res.Outcome != OutcomeInProgress {
			report.Confirmed++
		}
	}
	return report, errors.Join(errs...)
}

// Run sweeps the queue at startup when it is not empty, then sweeps the
// queue and the preview list every queueIntervalMinutes until ctx is done
// or Stop is called.
func (e *Engine) Run(ctx context.Context) error {
	e.sweep(ctx, e.dedup.QueueLen() > 0)

	interval := config.Load(e.store).QueueInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Info("sync loop started, sweeping every %s", interval)

	for {
		select {
		case <-ctx.Done():
			log.Debug("sync loop stopped: %v", ctx.Err())
			return ctx.Err()
		case <-e.stopCh:
			log.Debug("sync loop stopped")
			return nil
		case <-ticker.C:
			e.sweep(ctx, true)
			if next := config.Load(e.store).QueueInterval(); next != interval {
				interval = next
				ticker.Reset(interval)
				log.Info("sweep interval changed to %s", interval)
			}
		}
	}
}

func (e *Engine) sweep(ctx context.Context, queue bool) {
	if queue {
		if _, err := e.ProcessQueue(ctx); err != nil && !errors.Is(err, ErrSweepInProgress) {
			log.Error("queue sweep failed: %v", err)
		}
	}
	if _, err := e.SweepPreview(ctx); err != nil {
		log.Error("preview sweep failed: %v", err)
	}
}

// Stop cancels preview timers and ends Run.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}

	select {
	case <-e.stopCh:
		// Already closed
	default:
		close(e.stopCh)
	}
	e.cancel()

	log.Debug("sync engine stopped")
}
