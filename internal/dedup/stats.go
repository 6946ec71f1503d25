package dedup

import (
	"errors"
	"time"

	"github.com/JohanCodinha/aurora/internal/models"
	"github.com/JohanCodinha/aurora/internal/store"
)

// RecentCap is the maximum length of the recent list.
const RecentCap = 20

const dateLayout = "2006-01-02"

func (e *Engine) loadStats() models.SyncStats {
	var s models.SyncStats
	store.Load(e.store, store.KeySyncStats, &s)
	return s
}

// Stats returns the counters. TodaySynced reads as zero when the last sync
// happened on another local day.
func (e *Engine) Stats() models.SyncStats {
	e.rw.Lock()
	defer e.rw.Unlock()
	s := e.loadStats()
	if s.LastSyncDate != e.now().Local().Format(dateLayout) {
		s.TodaySynced = 0
	}
	return s
}

// RecordSuccess counts one successful sync.
func (e *Engine) RecordSuccess() error {
	e.rw.Lock()
	defer e.rw.Unlock()

	now := e.now()
	today := now.Local().Format(dateLayout)
	s := e.loadStats()
	if s.LastSyncDate != today {
		s.TodaySynced = 0
		s.LastSyncDate = today
	}
	s.TotalSynced++
	s.TodaySynced++
	t := now.UTC()
	s.LastSyncTime = &t
	return e.store.Set(store.KeySyncStats, s)
}

// RecordFailure counts one failed sync attempt.
func (e *Engine) RecordFailure() error {
	e.rw.Lock()
	defer e.rw.Unlock()

	s := e.loadStats()
	s.FailureCount++
	t := e.now().UTC()
	s.LastSyncTime = &t
	return e.store.Set(store.KeySyncStats, s)
}

// AddRecent prepends r to the recent list, trimming it to RecentCap.
// A zero SyncedAt is set to the current time.
func (e *Engine) AddRecent(r models.RecentPost) error {
	e.rw.Lock()
	defer e.rw.Unlock()

	if r.SyncedAt.IsZero() {
		r.SyncedAt = e.now().UTC()
	}
	var recent []models.RecentPost
	store.Load(e.store, store.KeyRecentPosts, &recent)

	next := make([]models.RecentPost, 0, min(len(recent)+1, RecentCap))
	next = append(next, r)
	for _, old := range recent {
		if len(next) == RecentCap {
			break
		}
		if old.Post.ID != r.Post.ID {
			next = append(next, old)
		}
	}
	return e.store.Set(store.KeyRecentPosts, next)
}

// Recent returns up to limit recent posts, newest first. A limit of zero or
// less returns the whole list.
func (e *Engine) Recent(limit int) []models.RecentPost {
	e.rw.Lock()
	defer e.rw.Unlock()

	var recent []models.RecentPost
	store.Load(e.store, store.KeyRecentPosts, &recent)
	if limit > 0 && len(recent) > limit {
		recent = recent[:limit]
	}
	return recent
}

// InstallTimestamp returns the install time in Unix milliseconds, recording
// the current time on first use.
func (e *Engine) InstallTimestamp() int64 {
	e.rw.Lock()
	defer e.rw.Unlock()
	return e.installTimestamp()
}

func (e *Engine) installTimestamp() int64 {
	var ts int64
	if store.Load(e.store, store.KeyInstallTimestamp, &ts) && ts > 0 {
		return ts
	}
	ts = e.now().UnixMilli()
	if err := e.store.Set(store.KeyInstallTimestamp, ts); err != nil {
		log.Warn("could not record install timestamp: %v", err)
	}
	return ts
}

// IsHistorical reports whether a post created at timestamp predates the
// install. Unparseable timestamps are not historical.
func (e *Engine) IsHistorical(timestamp string) bool {
	t, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return false
	}
	return t.UnixMilli() < e.InstallTimestamp()
}

// ClearHistory forgets every synced id along with the recent list, the
// queue and the stats, then starts a new install epoch. The new install
// timestamp is always later than the previous one.
func (e *Engine) ClearHistory() error {
	e.rw.Lock()
	defer e.rw.Unlock()

	var prev int64
	store.Load(e.store, store.KeyInstallTimestamp, &prev)

	var errs []error
	for _, key := range []string{
		store.KeySyncedIDs,
		store.KeyRecentPosts,
		store.KeySyncQueue,
		store.KeySyncStats,
		store.KeyInstallTimestamp,
	} {
		if err := e.store.Remove(key); err != nil {
			errs = append(errs, err)
		}
	}
	e.resetSynced()

	ts := max(e.now().UnixMilli(), prev+1)
	if err := e.store.Set(store.KeyInstallTimestamp, ts); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	log.Info("sync history cleared, new install timestamp %d", ts)
	return nil
}
