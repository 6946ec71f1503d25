package store

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/JohanCodinha/aurora/internal/logger"
)

var log = logger.Named("store")

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB is a Store backed by a SQLite file.
type DB struct {
	path string
	conn *sql.DB
}

// Open creates or opens the SQLite database at path and applies pending
// schema migrations. Use ":memory:" for a throwaway database.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports a single writer; one connection avoids "database is locked"
	// when the HTTP surface and the sweeps write concurrently.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := applyMigrations(conn); err != nil {
		conn.Close()
		return nil, err
	}

	log.Debug("opened %s", path)
	return &DB{path: path, conn: conn}, nil
}

func applyMigrations(conn *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	defer src.Close()

	driver, err := sqlite.WithInstance(conn, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	// m.Close is not called: it would close conn, which the DB keeps using.
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Path returns the database path given to Open.
func (db *DB) Path() string { return db.path }

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Get implements Store.
func (db *DB) Get(key string) (json.RawMessage, bool) {
	var value string
	err := db.conn.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Warn("failed to read %q: %v", key, err)
		}
		return nil, false
	}
	return json.RawMessage(value), true
}

// Set implements Store.
func (db *DB) Set(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return &PersistenceError{Op: "set", Key: key, Err: err}
	}

	query := `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := db.conn.Exec(query, key, string(data), time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return &PersistenceError{Op: "set", Key: key, Err: err}
	}
	return nil
}

// Remove implements Store.
func (db *DB) Remove(key string) error {
	if _, err := db.conn.Exec("DELETE FROM kv WHERE key = ?", key); err != nil {
		return &PersistenceError{Op: "remove", Key: key, Err: err}
	}
	return nil
}

// GetAll implements Store.
func (db *DB) GetAll() map[string]json.RawMessage {
	all := make(map[string]json.RawMessage)

	rows, err := db.conn.Query("SELECT key, value FROM kv ORDER BY key ASC")
	if err != nil {
		log.Warn("failed to list keys: %v", err)
		return all
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			log.Warn("failed to scan row: %v", err)
			continue
		}
		all[key] = json.RawMessage(value)
	}
	if err := rows.Err(); err != nil {
		log.Warn("error iterating rows: %v", err)
	}
	return all
}

// SizeBytes reports the total size of stored values.
func (db *DB) SizeBytes() int64 {
	var n sql.NullInt64
	if err := db.conn.QueryRow("SELECT SUM(LENGTH(value)) FROM kv").Scan(&n); err != nil {
		log.Warn("failed to compute size: %v", err)
		return 0
	}
	return n.Int64
}
