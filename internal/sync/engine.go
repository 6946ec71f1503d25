// Package sync drives liked posts from submission to a created issue: dedup
// checks, the optional preview hold, the remote call, and the retry queue.
package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/JohanCodinha/aurora/internal/config"
	"github.com/JohanCodinha/aurora/internal/dedup"
	"github.com/JohanCodinha/aurora/internal/linear"
	"github.com/JohanCodinha/aurora/internal/logger"
	"github.com/JohanCodinha/aurora/internal/models"
	"github.com/JohanCodinha/aurora/internal/notify"
	"github.com/JohanCodinha/aurora/internal/store"
)

var log = logger.Named("sync")

var (
	// ErrMissingID rejects a post without an id. Nothing is recorded.
	ErrMissingID = errors.New("post id is required")
	// ErrSweepInProgress is returned when a queue sweep is already running.
	ErrSweepInProgress = errors.New("queue sweep already in progress")
)

// Remote creates issues. *linear.Client implements it.
type Remote interface {
	HasCredential() bool
	SyncPost(ctx context.Context, post models.Post, cfg config.Config) (*linear.Issue, error)
}

// Outcome is how a submission ended.
type Outcome string

const (
	OutcomeSynced        Outcome = "synced"
	OutcomeAlreadySynced Outcome = "already_synced"
	OutcomeInProgress    Outcome = "in_progress"
	OutcomeQueued        Outcome = "queued"
	OutcomePending       Outcome = "pending"
	OutcomeSkipped       Outcome = "skipped"
)

// Result describes a submission or a preview confirmation.
type Result struct {
	Outcome Outcome              `json:"outcome"`
	Issue   *linear.Issue        `json:"issue,omitempty"`
	Preview *models.PreviewEntry `json:"preview,omitempty"`
	Error   string               `json:"error,omitempty"`
}

// SweepReport summarizes one pass over the retry queue.
type SweepReport struct {
	Processed int `json:"processed"`
	Synced    int `json:"synced"`
	Failed    int `json:"failed"`
	Dropped   int `json:"dropped"`
	Skipped   int `json:"skipped"`
}

// PreviewReport summarizes one pass over the preview queue.
type PreviewReport struct {
	Expired   int `json:"expired"`
	Confirmed int `json:"confirmed"`
}

// Status is what the engine is doing right now.
type Status struct {
	IsSync      bool         `json:"isSync"`
	CurrentPost *models.Post `json:"currentPost"`
}

// Engine orchestrates syncs. Config is re-read from the store on every
// operation so changes apply without a restart.
type Engine struct {
	store  store.Store
	dedup  *dedup.Engine
	remote Remote
	bus    *notify.Bus
	sleep  func(ctx context.Context, d time.Duration) error

	sweeping atomic.Bool

	// internal state
	mu      gosync.Mutex
	active  int
	current *models.Post
	timers  map[string]*time.Timer
	stopCh  chan struct{}

	// ctx outlives individual requests; preview timers run under it.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewEngine creates a sync engine. bus may be nil.
func NewEngine(s store.Store, d *dedup.Engine, remote Remote, bus *notify.Bus) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:  s,
		dedup:  d,
		remote: remote,
		bus:    bus,
		sleep:  sleepContext,
		timers: make(map[string]*time.Timer),
		stopCh: make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) publish(kind notify.Kind, post models.Post, msg string, issue *linear.Issue) {
	ev := notify.Event{Kind: kind, PostID: post.ID, Message: msg, At: e.dedup.Now().UTC()}
	if issue != nil {
		ev.IssueID = issue.Identifier
		ev.URL = issue.URL
	}
	e.bus.Publish(ev)
}

// Submit handles a newly observed liked post.
func (e *Engine) Submit(ctx context.Context, post models.Post) (Result, error) {
	if post.ID == "" {
		return Result{}, ErrMissingID
	}
	if !e.dedup.TryAcquire(post.ID) {
		log.Debug("post %s already in flight", post.ID)
		return Result{Outcome: OutcomeInProgress}, nil
	}
	if e.dedup.IsSynced(post.ID) {
		e.dedup.Release(post.ID)
		log.Debug("post %s already synced", post.ID)
		return Result{Outcome: OutcomeAlreadySynced}, nil
	}

	cfg := config.Load(e.store)
	if cfg.EnablePreview {
		res, handled, err := e.hold(post, cfg)
		if handled || err != nil {
			e.dedup.Release(post.ID)
			return res, err
		}
	}

	defer e.dedup.Release(post.ID)
	return e.syncGuarded(ctx, post, cfg)
}

// hold puts post in the preview queue. handled is false when the post had
// already been confirmed and should go straight to a sync.
func (e *Engine) hold(post models.Post, cfg config.Config) (Result, bool, error) {
	if existing, ok := e.dedup.GetPreview(post.ID); ok {
		switch existing.Status {
		case models.PreviewSkipped:
			return Result{Outcome: OutcomeSkipped, Preview: &existing}, true, nil
		case models.PreviewConfirmed:
			return Result{}, false, nil
		}
	}

	entry, added, err := e.dedup.AddPreview(post, cfg.AutoSyncDelayDuration())
	if err != nil {
		return Result{}, true, fmt.Errorf("failed to hold post %s for preview: %w", post.ID, err)
	}
	if added {
		e.schedule(post.ID, cfg.AutoSyncDelayDuration())
		e.publish(notify.PreviewPending, post, "", nil)
		log.Info("post %s pending preview, auto-sync in %s", post.ID, cfg.AutoSyncDelayDuration())
	}
	return Result{Outcome: OutcomePending, Preview: &entry}, true, nil
}

// syncGuarded sends post to the remote. The caller holds the in-flight
// guard for post.ID.
func (e *Engine) syncGuarded(ctx context.Context, post models.Post, cfg config.Config) (Result, error) {
	if !e.remote.HasCredential() {
		return e.queueFailure(post, linear.ErrMissingCredential, false)
	}

	e.begin(post)
	issue, err := e.remote.SyncPost(ctx, post, cfg)
	e.end()

	if err != nil {
		if errors.Is(err, linear.ErrMissingCredential) {
			return e.queueFailure(post, err, false)
		}
		return e.queueFailure(post, err, true)
	}

	if err := e.recordSuccess(post, issue); err != nil {
		return Result{Issue: issue}, err
	}
	return Result{Outcome: OutcomeSynced, Issue: issue}, nil
}

// queueFailure parks post in the retry queue. Remote failures also count
// against the stats and are published.
func (e *Engine) queueFailure(post models.Post, cause error, remote bool) (Result, error) {
	if _, err := e.dedup.Enqueue(post); err != nil {
		return Result{}, fmt.Errorf("failed to queue post %s after %v: %w", post.ID, cause, err)
	}
	res := Result{Outcome: OutcomeQueued, Error: cause.Error()}
	if !remote {
		log.Info("post %s queued: %v", post.ID, cause)
		return res, nil
	}

	if err := e.dedup.RecordFailure(); err != nil {
		log.Warn("failed to record failure stats: %v", err)
	}
	e.publish(notify.SyncError, post, cause.Error(), nil)
	log.Warn("sync of post %s failed, queued for retry: %v", post.ID, cause)
	return res, nil
}

// recordSuccess marks post synced and updates the secondary bookkeeping.
// Only a failure to mark the post is returned: the issue exists and the
// rest is best effort.
func (e *Engine) recordSuccess(post models.Post, issue *linear.Issue) error {
	if err := e.dedup.MarkSynced(post.ID); err != nil {
		log.Error("issue %s created but post %s could not be marked synced: %v", issue.Identifier, post.ID, err)
		return fmt.Errorf("failed to mark post %s synced: %w", post.ID, err)
	}
	if err := e.dedup.RecordSuccess(); err != nil {
		log.Warn("failed to record success stats: %v", err)
	}
	recent := models.RecentPost{
		Post:            post,
		IssueID:         issue.ID,
		IssueIdentifier: issue.Identifier,
		IssueURL:        issue.URL,
	}
	if err := e.dedup.AddRecent(recent); err != nil {
		log.Warn("failed to update recent posts: %v", err)
	}
	e.publish(notify.SyncSuccess, post, "", issue)
	return nil
}

func (e *Engine) begin(post models.Post) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active++
	p := post
	e.current = &p
}

func (e *Engine) end() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active--
	if e.active == 0 {
		e.current = nil
	}
}

// Status reports whether a remote sync is running and for which post.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Status{IsSync: e.active > 0}
	if e.current != nil {
		p := *e.current
		s.CurrentPost = &p
	}
	return s
}

// Sweeping reports whether a queue sweep is running.
func (e *Engine) Sweeping() bool {
	return e.sweeping.Load()
}

// ProcessQueue retries queued posts in FIFO order. Entries that reached the
// retry ceiling are dropped without a remote call. Only one sweep runs at a
// time; a concurrent call returns ErrSweepInProgress.
func (e *Engine) ProcessQueue(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	if !e.sweeping.CompareAndSwap(false, true) {
		return report, ErrSweepInProgress
	}
	defer e.sweeping.Store(false)

	queue := e.dedup.ListQueue()
	if len(queue) == 0 {
		log.Debug("queue is empty")
		return report, nil
	}
	cfg := config.Load(e.store)
	log.Info("processing %d queued posts", len(queue))

	attempted := false
	for _, entry := range queue {
		post := entry.Post
		report.Processed++

		if entry.RetryCount >= cfg.MaxQueueRetries {
			if err := e.dedup.Dequeue(post.ID); err != nil {
				log.Warn("failed to drop post %s: %v", post.ID, err)
				continue
			}
			report.Dropped++
			log.Warn("dropped post %s after %d retries", post.ID, entry.RetryCount)
			e.publish(notify.QueueDropped, post, fmt.Sprintf("gave up after %d retries", entry.RetryCount), nil)
			continue
		}

		if !e.dedup.TryAcquire(post.ID) {
			report.Skipped++
			continue
		}
		if e.dedup.IsSynced(post.ID) {
			if err := e.dedup.Dequeue(post.ID); err != nil {
				log.Warn("failed to dequeue synced post %s: %v", post.ID, err)
			}
			e.dedup.Release(post.ID)
			report.Skipped++
			continue
		}

		if attempted {
			if err := e.sleep(ctx, cfg.BatchDelayDuration()); err != nil {
				e.dedup.Release(post.ID)
				report.Processed--
				break
			}
		}
		attempted = true

		if e.retry(ctx, post, cfg) {
			report.Synced++
		} else {
			report.Failed++
		}
		e.dedup.Release(post.ID)
	}

	log.Info("queue sweep done: %d synced, %d failed, %d dropped, %d skipped",
		report.Synced, report.Failed, report.Dropped, report.Skipped)
	return report, nil
}

// retry makes one sync attempt for a queued post. The caller holds the
// in-flight guard.
func (e *Engine) retry(ctx context.Context, post models.Post, cfg config.Config) bool {
	e.begin(post)
	issue, err := e.remote.SyncPost(ctx, post, cfg)
	e.end()

	if err != nil {
		n, incErr := e.dedup.IncrementRetry(post.ID)
		if incErr != nil {
			log.Warn("failed to bump retry count for %s: %v", post.ID, incErr)
		}
		log.Warn("retry %d of post %s failed: %v", n, post.ID, err)
		return false
	}

	// An unmarked post stays queued; the retry ceiling bounds duplicates.
	if err := e.recordSuccess(post, issue); err != nil {
		return false
	}
	if err := e.dedup.Dequeue(post.ID); err != nil {
		log.Warn("failed to dequeue synced post %s: %v", post.ID, err)
	}
	return true
}
