// Package store provides the durable key-value persistence used by every
// other aurora component.
//
// Values are JSON documents. Reads never fail: a value that cannot be read is
// reported as absent. Writes report a *PersistenceError which callers must
// propagate or log; a lost write is never silent.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Logical keys. One value per key.
const (
	KeySyncedIDs           = "syncedTweets"
	KeySyncStats           = "syncStats"
	KeyToken               = "linearToken"
	KeyTeamID              = "linearTeamId"
	KeyLegacyTeamID        = "defaultLinearTeamId"
	KeyRecentPosts         = "recentPosts"
	KeySyncQueue           = "syncQueue"
	KeyPreviewQueue        = "previewQueue"
	KeyInstallTimestamp    = "installTimestamp"
	KeyLegacyHistoricLikes = "syncHistoricalLikes"
	KeyConfig              = "auroraConfig"
)

// Store is the persistence capability.
type Store interface {
	// Get returns the raw JSON value stored under key, or false when absent
	// or unreadable.
	Get(key string) (json.RawMessage, bool)
	// Set marshals v to JSON and stores it under key.
	Set(key string, v any) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(key string) error
	// GetAll returns every stored key and value.
	GetAll() map[string]json.RawMessage
}

// ErrPersistence matches every *PersistenceError.
var ErrPersistence = errors.New("persistence failure")

// PersistenceError reports a failed write.
type PersistenceError struct {
	Op  string // "set" or "remove"
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrPersistence) true for any PersistenceError.
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// Load decodes the value under key into out. It reports whether a value was
// present and decodable.
func Load(s Store, key string, out any) bool {
	raw, ok := s.Get(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		log.Warn("failed to decode %q: %v", key, err)
		return false
	}
	return true
}
