// Package dedup decides whether a post has already been synced and owns the
// persisted bookkeeping that keeps that decision stable across restarts: the
// synced-id set, the retry queue, the preview queue, stats and the recent
// list. It also holds the process-local in-flight guard.
package dedup

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/JohanCodinha/aurora/internal/logger"
	"github.com/JohanCodinha/aurora/internal/store"
)

var log = logger.Named("dedup")

var (
	// ErrNotFound is returned for an id that is not in the queue or preview.
	ErrNotFound = errors.New("entry not found")
	// ErrNotPending is returned when confirming or skipping a decided preview.
	ErrNotPending = errors.New("preview entry is not pending")
)

// Engine owns the dedup state. The synced-id set is cached after the first
// read; every other record is read from the store on each call.
type Engine struct {
	store store.Store
	now   func() time.Time

	// mu guards the synced cache and the in-flight set.
	mu       sync.Mutex
	synced   map[string]struct{}
	order    []string
	inFlight map[string]struct{}

	// rw serializes read-modify-write cycles on the persisted lists.
	rw sync.Mutex
}

// New creates an engine over s.
func New(s store.Store) *Engine {
	return &Engine{
		store:    s,
		now:      time.Now,
		inFlight: make(map[string]struct{}),
	}
}

// WithClock replaces the time source. Used by tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Now returns the engine's current time.
func (e *Engine) Now() time.Time { return e.now() }

// NormalizeIDs coerces any stored shape of the synced set into a canonical
// ordered list without duplicates:
//
//	["a","b"] or [1,2]       array of strings or numbers
//	"a" or 1                 single scalar
//	{"0":"a","1":"b"}        array serialized as an object
//	{"a":true,"b":1}         keyed set; keys whose value is false or null are skipped
//
// Anything else yields an empty list and a warning.
func NormalizeIDs(raw json.RawMessage) []string {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		log.Warn("unreadable synced set, starting empty: %v", err)
		return nil
	}

	var ids []string
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if id, ok := scalarID(item); ok {
				ids = append(ids, id)
			}
		}
	case string, json.Number:
		if id, ok := scalarID(t); ok {
			ids = append(ids, id)
		}
	case map[string]any:
		ids = objectIDs(t)
	case nil:
		return nil
	default:
		log.Warn("unexpected synced set shape %T, starting empty", v)
		return nil
	}
	return dedupe(ids)
}

func scalarID(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, t != ""
	case json.Number:
		return t.String(), true
	}
	return "", false
}

func objectIDs(m map[string]any) []string {
	if ids, ok := indexedIDs(m); ok {
		return ids
	}

	keys := make([]string, 0, len(m))
	for k, val := range m {
		if val == nil || val == false || k == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// indexedIDs reads m as an array serialized as an object. It only applies
// when the keys are exactly "0".."n-1" and every value is a scalar id;
// numeric post ids used as set keys do not qualify.
func indexedIDs(m map[string]any) ([]string, bool) {
	ids := make([]string, len(m))
	for i := range ids {
		id, ok := scalarID(m[strconv.Itoa(i)])
		if !ok {
			return nil, false
		}
		ids[i] = id
	}
	return ids, len(ids) > 0
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// loadSynced fills the cache from the store. Callers hold e.mu.
func (e *Engine) loadSynced() {
	if e.synced != nil {
		return
	}
	raw, _ := e.store.Get(store.KeySyncedIDs)
	e.order = NormalizeIDs(raw)
	e.synced = make(map[string]struct{}, len(e.order))
	for _, id := range e.order {
		e.synced[id] = struct{}{}
	}
	log.Debug("loaded %d synced ids", len(e.order))
}

// IsSynced reports whether id is in the persisted synced set.
func (e *Engine) IsSynced(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loadSynced()
	_, ok := e.synced[id]
	return ok
}

// SyncedCount returns the size of the synced set.
func (e *Engine) SyncedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loadSynced()
	return len(e.order)
}

// MarkSynced adds id to the synced set. The set is persisted before the cache
// is updated, so a failed write leaves both unchanged.
func (e *Engine) MarkSynced(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loadSynced()

	if _, ok := e.synced[id]; ok {
		return nil
	}

	next := make([]string, len(e.order), len(e.order)+1)
	copy(next, e.order)
	next = append(next, id)
	if err := e.store.Set(store.KeySyncedIDs, next); err != nil {
		return err
	}

	e.order = next
	e.synced[id] = struct{}{}
	return nil
}

// TryAcquire marks id in flight. It returns false when id already is.
func (e *Engine) TryAcquire(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inFlight[id]; busy {
		return false
	}
	e.inFlight[id] = struct{}{}
	return true
}

// Release clears the in-flight mark for id.
func (e *Engine) Release(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, id)
}

// InFlight returns the ids currently in flight, sorted.
func (e *Engine) InFlight() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.inFlight))
	for id := range e.inFlight {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// resetSynced drops the cache so the next read goes back to the store.
func (e *Engine) resetSynced() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.synced = nil
	e.order = nil
}
