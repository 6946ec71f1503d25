// Package config holds the user-tunable sync policy and the process settings.
//
// The policy (Config) is a versioned JSON record kept in the local store and
// re-read on every operation so that changes apply immediately. Loading is a
// one-way migration: keys missing from the stored record are backfilled from
// defaults and the completed record is written back.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JohanCodinha/aurora/internal/logger"
	"github.com/JohanCodinha/aurora/internal/store"
)

var log = logger.Named("config")

// LatestVersion is the version written by Load.
//
//	v1: title, label and preview settings; legacy syncHistoricalLikes imported
//	v2: queue, retry and sweep tuning
const LatestVersion = 2

// Title styles.
const (
	TitleSmart   = "smart"
	TitleContent = "content"
	TitleAuthor  = "author"
)

// ErrInvalid is returned by Update for values that fail validation.
var ErrInvalid = errors.New("invalid config")

// Config is the effective sync policy. Durations are stored in milliseconds.
type Config struct {
	Version              int      `json:"version"`
	SyncHistoricalLikes  bool     `json:"syncHistoricalLikes"`
	MaxSyncedTweetsCache int      `json:"maxSyncedTweetsCache"`
	CleanupDays          int      `json:"cleanupDays"`
	EnableNotifications  bool     `json:"enableNotifications"`
	TitleStyle           string   `json:"titleStyle"`
	TitleMaxLength       int      `json:"titleMaxLength"`
	EnableSmartLabels    bool     `json:"enableSmartLabels"`
	LabelCategories      []string `json:"labelCategories"`
	EnablePreview        bool     `json:"enablePreview"`
	AutoSyncDelay        int      `json:"autoSyncDelay"`
	BatchSize            int      `json:"batchSize"`
	BatchDelay           int      `json:"batchDelay"`
	MaxQueueRetries      int      `json:"maxQueueRetries"`
	RequestRetries       int      `json:"requestRetries"`
	RetryBaseDelay       int      `json:"retryBaseDelay"`
	QueueIntervalMinutes int      `json:"queueIntervalMinutes"`
}

// Defaults returns the policy used for every key absent from the store.
func Defaults() Config {
	return Config{
		Version:              LatestVersion,
		SyncHistoricalLikes:  false,
		MaxSyncedTweetsCache: 1000,
		CleanupDays:          30,
		EnableNotifications:  true,
		TitleStyle:           TitleSmart,
		TitleMaxLength:       100,
		EnableSmartLabels:    true,
		LabelCategories:      []string{"technology", "business", "entertainment", "sports", "politics", "science"},
		EnablePreview:        false,
		AutoSyncDelay:        3000,
		BatchSize:            5,
		BatchDelay:           2000,
		MaxQueueRetries:      5,
		RequestRetries:       3,
		RetryBaseDelay:       1000,
		QueueIntervalMinutes: 5,
	}
}

// AutoSyncDelayDuration is autoSyncDelay as a duration.
func (c Config) AutoSyncDelayDuration() time.Duration {
	return time.Duration(c.AutoSyncDelay) * time.Millisecond
}

// BatchDelayDuration is batchDelay as a duration.
func (c Config) BatchDelayDuration() time.Duration {
	return time.Duration(c.BatchDelay) * time.Millisecond
}

// RetryBaseDelayDuration is retryBaseDelay as a duration.
func (c Config) RetryBaseDelayDuration() time.Duration {
	return time.Duration(c.RetryBaseDelay) * time.Millisecond
}

// QueueInterval is the period of the background queue sweep.
func (c Config) QueueInterval() time.Duration {
	return time.Duration(c.QueueIntervalMinutes) * time.Minute
}

// Validate checks value ranges.
func (c Config) Validate() error {
	switch c.TitleStyle {
	case TitleSmart, TitleContent, TitleAuthor:
	default:
		return fmt.Errorf("%w: titleStyle must be one of smart, content, author (got %q)", ErrInvalid, c.TitleStyle)
	}

	checks := []struct {
		name  string
		value int
		min   int
	}{
		{"titleMaxLength", c.TitleMaxLength, 1},
		{"maxSyncedTweetsCache", c.MaxSyncedTweetsCache, 0},
		{"cleanupDays", c.CleanupDays, 0},
		{"autoSyncDelay", c.AutoSyncDelay, 0},
		{"batchSize", c.BatchSize, 1},
		{"batchDelay", c.BatchDelay, 0},
		{"maxQueueRetries", c.MaxQueueRetries, 1},
		{"requestRetries", c.RequestRetries, 0},
		{"retryBaseDelay", c.RetryBaseDelay, 0},
		{"queueIntervalMinutes", c.QueueIntervalMinutes, 1},
	}
	for _, chk := range checks {
		if chk.value < chk.min {
			return fmt.Errorf("%w: %s must be >= %d (got %d)", ErrInvalid, chk.name, chk.min, chk.value)
		}
	}
	return nil
}

// Load returns the effective config, migrating and persisting the stored
// record when it is older than LatestVersion or lacks recognized keys.
// A failed write is logged; the effective config is still returned.
func Load(s store.Store) Config {
	raw, changed := loadRaw(s)
	cfg := decode(raw)
	if changed {
		if err := s.Set(store.KeyConfig, raw); err != nil {
			log.Error("failed to persist migrated config: %v", err)
		}
	}
	return cfg
}

// Update merges partial over the effective config, validates the result and
// persists it. Unknown keys are rejected; "version" cannot be set.
func Update(s store.Store, partial map[string]json.RawMessage) (Config, error) {
	raw, _ := loadRaw(s)
	known := fields()

	for key, value := range partial {
		if key == "version" {
			return Config{}, fmt.Errorf("%w: version is managed by migration", ErrInvalid)
		}
		if _, ok := known[key]; !ok {
			return Config{}, fmt.Errorf("%w: unknown key %q", ErrInvalid, key)
		}
		raw[key] = value
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return Config{}, fmt.Errorf("failed to encode config: %w", err)
	}
	cfg := Defaults()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	if err := s.Set(store.KeyConfig, raw); err != nil {
		return Config{}, err
	}
	log.Info("config updated (%d keys)", len(partial))
	return cfg, nil
}

// loadRaw reads the stored record and applies pending migrations in memory.
// It reports whether the record differs from what is stored.
func loadRaw(s store.Store) (map[string]json.RawMessage, bool) {
	raw := map[string]json.RawMessage{}
	if !store.Load(s, store.KeyConfig, &raw) || raw == nil {
		raw = map[string]json.RawMessage{}
	}

	version := 0
	if v, ok := raw["version"]; ok {
		if err := json.Unmarshal(v, &version); err != nil {
			log.Warn("stored config version is not a number: %s", v)
			version = 0
		}
	}

	changed := false
	if version < 1 {
		if _, ok := raw["syncHistoricalLikes"]; !ok {
			if legacy, ok := s.Get(store.KeyLegacyHistoricLikes); ok {
				raw["syncHistoricalLikes"] = legacy
				changed = true
			}
		}
	}

	for key, value := range fields() {
		if key == "version" {
			continue
		}
		if _, ok := raw[key]; !ok {
			raw[key] = value
			changed = true
		}
	}

	// Never downgrade a record written by a newer build.
	if version < LatestVersion {
		raw["version"] = json.RawMessage(fmt.Sprintf("%d", LatestVersion))
		changed = true
		log.Info("migrated config v%d -> v%d", version, LatestVersion)
	}
	return raw, changed
}

// fields returns every recognized key with its default value.
func fields() map[string]json.RawMessage {
	data, _ := json.Marshal(Defaults())
	out := map[string]json.RawMessage{}
	_ = json.Unmarshal(data, &out)
	return out
}

// decode overlays raw on the defaults. Values of the wrong type keep their
// default.
func decode(raw map[string]json.RawMessage) Config {
	cfg := Defaults()
	data, err := json.Marshal(raw)
	if err != nil {
		log.Warn("failed to encode stored config: %v", err)
		return cfg
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		log.Warn("stored config has invalid values, using defaults for them: %v", err)
	}
	return cfg
}
