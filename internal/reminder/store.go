package reminder

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	_ "modernc.org/sqlite"
)

// Keys under which the two JSON documents are persisted.
const (
	RemindersKey = "vocalizeit_reminders"
	SettingsKey  = "vocalizeit_settings"
)

// Store is the persistence contract: whole collections are read and written
// at once.
type Store interface {
	GetAll(ctx context.Context) ([]Reminder, error)
	SaveAll(ctx context.Context, reminders []Reminder) error
	GetSettings(ctx context.Context) (AppSettings, error)
	SaveSettings(ctx context.Context, settings AppSettings) error
}

// SQLiteStore keeps the reminder collection and the settings record as JSON
// documents in a SQLite key-value table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the SQLite database at dbPath and
// ensures the kv table exists.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", ErrStore, err)
	}
	// A single writer avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to set WAL mode: %w", ErrStore, err)
	}

	if err := createTable(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func createTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("%w: failed to create table: %w", ErrStore, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetAll returns every stored reminder. A missing document is an empty
// collection.
func (s *SQLiteStore) GetAll(ctx context.Context) ([]Reminder, error) {
	data, ok, err := s.get(ctx, RemindersKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []Reminder{}, nil
	}

	var reminders []Reminder
	if err := json.Unmarshal(data, &reminders); err != nil {
		return nil, fmt.Errorf("%w: failed to decode reminders: %w", ErrStore, err)
	}
	if reminders == nil {
		reminders = []Reminder{}
	}
	return reminders, nil
}

// SaveAll replaces the stored collection.
func (s *SQLiteStore) SaveAll(ctx context.Context, reminders []Reminder) error {
	if reminders == nil {
		reminders = []Reminder{}
	}
	data, err := json.Marshal(reminders)
	if err != nil {
		return fmt.Errorf("%w: failed to encode reminders: %w", ErrStore, err)
	}
	return s.put(ctx, RemindersKey, data)
}

// GetSettings returns the stored settings merged onto the defaults.
func (s *SQLiteStore) GetSettings(ctx context.Context) (AppSettings, error) {
	settings := DefaultSettings()

	data, ok, err := s.get(ctx, SettingsKey)
	if err != nil {
		return settings, err
	}
	if !ok {
		return settings, nil
	}

	// Unmarshalling onto the defaults leaves absent fields untouched.
	if err := json.Unmarshal(data, &settings); err != nil {
		return DefaultSettings(), fmt.Errorf("%w: failed to decode settings: %w", ErrStore, err)
	}
	return settings, nil
}

// SaveSettings replaces the stored settings record.
func (s *SQLiteStore) SaveSettings(ctx context.Context, settings AppSettings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("%w: failed to encode settings: %w", ErrStore, err)
	}
	return s.put(ctx, SettingsKey, data)
}

func (s *SQLiteStore) get(ctx context.Context, key string) ([]byte, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: failed to read %s: %w", ErrStore, key, err)
	}
	return []byte(value), true, nil
}

func (s *SQLiteStore) put(ctx context.Context, key string, value []byte) error {
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, string(value), now)
	if err != nil {
		return fmt.Errorf("%w: failed to write %s: %w", ErrStore, key, err)
	}
	return nil
}

// Find returns the index of the reminder with the given id, or -1.
func Find(reminders []Reminder, id string) int {
	for i := range reminders {
		if reminders[i].ID == id {
			return i
		}
	}
	return -1
}

// Upcoming returns the upcoming reminders sorted by ascending target.
func Upcoming(reminders []Reminder) []Reminder {
	out := make([]Reminder, 0, len(reminders))
	for _, r := range reminders {
		if r.Status == StatusUpcoming {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TargetTimestamp < out[j].TargetTimestamp
	})
	return out
}

// History returns completed, dismissed and missed reminders sorted by
// descending target.
func History(reminders []Reminder) []Reminder {
	out := make([]Reminder, 0, len(reminders))
	for _, r := range reminders {
		if r.Status.IsTerminal() {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TargetTimestamp > out[j].TargetTimestamp
	})
	return out
}
