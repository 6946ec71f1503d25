// Package app is the command surface of aurora. Every command returns a
// response value carrying success and error fields; no internal failure is
// returned as a Go error or allowed to panic the host.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/JohanCodinha/aurora/internal/config"
	"github.com/JohanCodinha/aurora/internal/dedup"
	"github.com/JohanCodinha/aurora/internal/linear"
	"github.com/JohanCodinha/aurora/internal/logger"
	"github.com/JohanCodinha/aurora/internal/notify"
	"github.com/JohanCodinha/aurora/internal/store"
	"github.com/JohanCodinha/aurora/internal/sync"
)

var log = logger.Named("app")

// DefaultRecentLimit is used by GetRecentPosts when no positive limit is given.
const DefaultRecentLimit = 5

// App wires the store, the dedup engine, the Linear client and the sync
// engine together.
type App struct {
	Settings config.Settings

	store  store.Store
	db     *store.DB
	dedup  *dedup.Engine
	client *linear.Client
	engine *sync.Engine
	bus    *notify.Bus
}

// Open opens the SQLite database named by settings and wires an App on it.
func Open(settings config.Settings) (*App, error) {
	if settings.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(settings.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := store.Open(settings.DBPath)
	if err != nil {
		return nil, err
	}
	a := New(db, settings)
	a.db = db
	log.Info("opened %s", settings.DBPath)
	return a, nil
}

// New wires an App on s. The caller keeps ownership of s.
func New(s store.Store, settings config.Settings) *App {
	bus := notify.NewBus()
	d := dedup.New(s)
	client := linear.New(s, settings.Endpoint, settings.RequestTimeout)
	return &App{
		Settings: settings,
		store:    s,
		dedup:    d,
		client:   client,
		engine:   sync.NewEngine(s, d, client, bus),
		bus:      bus,
	}
}

// Bus returns the event bus that sync events are published on.
func (a *App) Bus() *notify.Bus { return a.bus }

// Run runs the periodic sweeps until ctx is done or Close is called.
func (a *App) Run(ctx context.Context) error {
	return a.engine.Run(ctx)
}

// Close stops preview timers and closes the database if Open created it.
func (a *App) Close() error {
	a.engine.Stop()
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// errString flattens err for a response. Validation errors keep their
// message; everything else is prefixed by what was being done.
func errString(action string, err error) string {
	var verr *linear.ValidationError
	if errors.As(err, &verr) {
		return verr.Error()
	}
	return fmt.Sprintf("%s: %v", action, err)
}
