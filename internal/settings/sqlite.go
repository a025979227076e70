package settings

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	_ "modernc.org/sqlite" // CGO-free SQLite

	"github.com/notionviews/agent/internal/tracking"
)

// Settings keys persisted in the kv table.
const (
	keyAPIEndpoint = "api_endpoint"
	keyAPIKey      = "api_key"
	keyEnabled     = "enabled"
	keyDatabaseID  = "database_id"
	keyLastTracked = "last_tracked"
)

// SQLiteStore persists settings in a local SQLite key-value table.
type SQLiteStore struct {
	db       *sql.DB
	defaults tracking.Settings
}

// NewSQLiteStore opens (or creates) the settings database at path. The
// provided defaults are returned by Load until the first Save.
func NewSQLiteStore(path string, defaults tracking.Settings) (*SQLiteStore, error) {
	// WAL + busy timeout to avoid "database is locked"
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open settings database: %w", err)
	}
	if _, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS settings(
	  key   TEXT PRIMARY KEY,
	  value TEXT NOT NULL
	);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create settings table: %w", err)
	}
	return &SQLiteStore{db: db, defaults: defaults}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load reads the persisted settings, falling back to the seeded defaults for
// keys never written.
func (s *SQLiteStore) Load(ctx context.Context) (tracking.Settings, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return tracking.Settings{}, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	out := s.defaults
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return tracking.Settings{}, fmt.Errorf("scan settings row: %w", err)
		}
		switch key {
		case keyAPIEndpoint:
			out.APIEndpoint = value
		case keyAPIKey:
			out.APIKey = value
		case keyEnabled:
			out.Enabled, _ = strconv.ParseBool(value)
		case keyDatabaseID:
			out.DatabaseID = value
		case keyLastTracked:
			if value != "" {
				if ts, parseErr := time.Parse(time.RFC3339, value); parseErr == nil {
					out.LastTracked = ts
				}
			}
		}
	}
	if err := rows.Err(); err != nil {
		return tracking.Settings{}, fmt.Errorf("iterate settings rows: %w", err)
	}
	return out, nil
}

// Save overwrites the settings wholesale in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, settings tracking.Settings) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin settings transaction: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO settings(key, value) VALUES(?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare settings upsert: %w", err)
	}
	defer stmt.Close() //nolint:errcheck // statement owned by tx

	lastTracked := ""
	if !settings.LastTracked.IsZero() {
		lastTracked = settings.LastTracked.UTC().Format(time.RFC3339)
	}
	pairs := map[string]string{
		keyAPIEndpoint: settings.APIEndpoint,
		keyAPIKey:      settings.APIKey,
		keyEnabled:     strconv.FormatBool(settings.Enabled),
		keyDatabaseID:  settings.DatabaseID,
		keyLastTracked: lastTracked,
	}
	for key, value := range pairs {
		if _, err := stmt.ExecContext(ctx, key, value); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upsert setting %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit settings: %w", err)
	}
	return nil
}
