package dedup

import (
	"fmt"
	"time"

	"github.com/JohanCodinha/aurora/internal/models"
	"github.com/JohanCodinha/aurora/internal/store"
)

// PreviewTTL is how long a preview entry is kept, whatever its status.
const PreviewTTL = 24 * time.Hour

func (e *Engine) loadPreview() []models.PreviewEntry {
	var p []models.PreviewEntry
	store.Load(e.store, store.KeyPreviewQueue, &p)
	return p
}

// AddPreview records post as pending, to be synced automatically after
// delay. Adding an id that is already present only refreshes its addedAt;
// the returned bool is false in that case.
func (e *Engine) AddPreview(post models.Post, delay time.Duration) (models.PreviewEntry, bool, error) {
	e.rw.Lock()
	defer e.rw.Unlock()

	now := e.now().UTC()
	p := e.loadPreview()
	for i := range p {
		if p[i].Post.ID == post.ID {
			p[i].AddedAt = now
			if err := e.store.Set(store.KeyPreviewQueue, p); err != nil {
				return models.PreviewEntry{}, false, err
			}
			return p[i], false, nil
		}
	}

	entry := models.PreviewEntry{
		Post:       post,
		AddedAt:    now,
		AutoSyncAt: now.Add(delay),
		Status:     models.PreviewPending,
	}
	p = append(p, entry)
	if err := e.store.Set(store.KeyPreviewQueue, p); err != nil {
		return models.PreviewEntry{}, false, err
	}
	return entry, true, nil
}

// ListPreview returns every preview entry in insertion order.
func (e *Engine) ListPreview() []models.PreviewEntry {
	e.rw.Lock()
	defer e.rw.Unlock()
	return e.loadPreview()
}

// GetPreview returns the entry for id.
func (e *Engine) GetPreview(id string) (models.PreviewEntry, bool) {
	for _, entry := range e.ListPreview() {
		if entry.Post.ID == id {
			return entry, true
		}
	}
	return models.PreviewEntry{}, false
}

// ConfirmPreview moves a pending entry to confirmed.
func (e *Engine) ConfirmPreview(id string) (models.PreviewEntry, error) {
	return e.decide(id, models.PreviewConfirmed)
}

// SkipPreview moves a pending entry to skipped.
func (e *Engine) SkipPreview(id string) (models.PreviewEntry, error) {
	return e.decide(id, models.PreviewSkipped)
}

func (e *Engine) decide(id string, status models.PreviewStatus) (models.PreviewEntry, error) {
	e.rw.Lock()
	defer e.rw.Unlock()

	p := e.loadPreview()
	for i := range p {
		if p[i].Post.ID != id {
			continue
		}
		if p[i].Status != models.PreviewPending {
			return p[i], fmt.Errorf("preview %s is %s: %w", id, p[i].Status, ErrNotPending)
		}
		now := e.now().UTC()
		p[i].Status = status
		p[i].DecidedAt = &now
		if err := e.store.Set(store.KeyPreviewQueue, p); err != nil {
			return models.PreviewEntry{}, err
		}
		return p[i], nil
	}
	return models.PreviewEntry{}, fmt.Errorf("preview %s: %w", id, ErrNotFound)
}

// RemovePreview deletes the entry for id. Removing an absent id is a no-op.
func (e *Engine) RemovePreview(id string) error {
	e.rw.Lock()
	defer e.rw.Unlock()

	p := e.loadPreview()
	kept := p[:0]
	for _, entry := range p {
		if entry.Post.ID != id {
			kept = append(kept, entry)
		}
	}
	if len(kept) == len(p) {
		return nil
	}
	return e.store.Set(store.KeyPreviewQueue, kept)
}

// DuePreview returns the pending entries whose auto-sync time is at or
// before now.
func (e *Engine) DuePreview(now time.Time) []models.PreviewEntry {
	var due []models.PreviewEntry
	for _, entry := range e.ListPreview() {
		if entry.Status == models.PreviewPending && !entry.AutoSyncAt.After(now) {
			due = append(due, entry)
		}
	}
	return due
}

// CleanupPreview drops entries added more than PreviewTTL before now and
// returns how many were dropped.
func (e *Engine) CleanupPreview(now time.Time) (int, error) {
	e.rw.Lock()
	defer e.rw.Unlock()

	cutoff := now.Add(-PreviewTTL)
	p := e.loadPreview()
	kept := p[:0]
	for _, entry := range p {
		if entry.AddedAt.After(cutoff) {
			kept = append(kept, entry)
		}
	}
	dropped := len(p) - len(kept)
	if dropped == 0 {
		return 0, nil
	}
	if err := e.store.Set(store.KeyPreviewQueue, kept); err != nil {
		return 0, err
	}
	log.Info("dropped %d expired preview entries", dropped)
	return dropped, nil
}
