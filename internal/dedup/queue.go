package dedup

import (
	"fmt"

	"github.com/JohanCodinha/aurora/internal/models"
	"github.com/JohanCodinha/aurora/internal/store"
)

func (e *Engine) loadQueue() []models.QueueEntry {
	var q []models.QueueEntry
	store.Load(e.store, store.KeySyncQueue, &q)
	return q
}

// Enqueue appends post to the retry queue with a retry count of zero. A post
// whose id is already queued keeps its place, its retry count is reset to
// zero and false is returned.
func (e *Engine) Enqueue(post models.Post) (bool, error) {
	e.rw.Lock()
	defer e.rw.Unlock()

	q := e.loadQueue()
	for i := range q {
		if q[i].Post.ID != post.ID {
			continue
		}
		if q[i].RetryCount == 0 {
			return false, nil
		}
		q[i].RetryCount = 0
		if err := e.store.Set(store.KeySyncQueue, q); err != nil {
			return false, err
		}
		log.Debug("requeued %s, retries reset", post.ID)
		return false, nil
	}

	q = append(q, models.QueueEntry{Post: post, AddedAt: e.now().UTC()})
	if err := e.store.Set(store.KeySyncQueue, q); err != nil {
		return false, err
	}
	log.Debug("queued %s (%d in queue)", post.ID, len(q))
	return true, nil
}

// Dequeue removes the entry for id. Removing an absent id is a no-op.
func (e *Engine) Dequeue(id string) error {
	e.rw.Lock()
	defer e.rw.Unlock()

	q := e.loadQueue()
	kept := q[:0]
	for _, entry := range q {
		if entry.Post.ID != id {
			kept = append(kept, entry)
		}
	}
	if len(kept) == len(q) {
		return nil
	}
	return e.store.Set(store.KeySyncQueue, kept)
}

// IncrementRetry bumps the retry count of the entry for id and returns the
// new count.
func (e *Engine) IncrementRetry(id string) (int, error) {
	e.rw.Lock()
	defer e.rw.Unlock()

	q := e.loadQueue()
	for i := range q {
		if q[i].Post.ID != id {
			continue
		}
		q[i].RetryCount++
		if err := e.store.Set(store.KeySyncQueue, q); err != nil {
			return 0, err
		}
		return q[i].RetryCount, nil
	}
	return 0, fmt.Errorf("queue entry %s: %w", id, ErrNotFound)
}

// ListQueue returns the queue in FIFO order.
func (e *Engine) ListQueue() []models.QueueEntry {
	e.rw.Lock()
	defer e.rw.Unlock()
	return e.loadQueue()
}

// QueueLen returns the number of queued posts.
func (e *Engine) QueueLen() int {
	return len(e.ListQueue())
}
