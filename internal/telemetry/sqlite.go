package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const schema = `CREATE TABLE IF NOT EXISTS events (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	payload TEXT NOT NULL
)`

// SQLiteCache is an EventCache persisted to a SQLite file, so events
// survive restarts until a flush succeeds.
type SQLiteCache struct {
	db       *sql.DB
	capacity int
}

var _ EventCache = (*SQLiteCache)(nil)

// OpenSQLiteCache opens (creating if needed) the cache at path. Once more
// than capacity events are stored the oldest are deleted.
func OpenSQLiteCache(path string, capacity int) (*SQLiteCache, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("cache capacity must be positive, got %d", capacity)
	}

	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating events table: %w", err)
	}
	return &SQLiteCache{db: db, capacity: capacity}, nil
}

// AppendEvents stores events and trims to capacity in one transaction.
func (c *SQLiteCache) AppendEvents(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO events (payload) VALUES (?)`)
	if err != nil {
		return fmt.Errorf("prepare append: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encoding event: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, string(payload)); err != nil {
			return fmt.Errorf("inserting event: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM events WHERE id NOT IN (SELECT id FROM events ORDER BY id DESC LIMIT ?)`,
		c.capacity,
	); err != nil {
		return fmt.Errorf("trimming events: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// GetEvents returns every stored event, oldest first.
func (c *SQLiteCache) GetEvents(ctx context.Context) ([]Event, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT payload FROM events ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		var e Event
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, fmt.Errorf("decoding event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ClearEvents deletes every stored event.
func (c *SQLiteCache) ClearEvents(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM events`); err != nil {
		return fmt.Errorf("clearing events: %w", err)
	}
	return nil
}

// Len returns the number of stored events.
func (c *SQLiteCache) Len(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}

// openDB opens a SQLite database tuned for a single writer.
func openDB(path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cannot create database directory %q: %w", dir, err)
	}

	// busy_timeout waits out locks held by another mdbmcp process;
	// WAL keeps readers off the writer's back.
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, diagnoseOpenError(path, err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, diagnoseOpenError(path, err)
	}
	return db, nil
}

// diagnoseOpenError turns SQLITE_CANTOPEN into a message naming the
// directory at fault.
func diagnoseOpenError(path string, err error) error {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.Code() != sqlite3.SQLITE_CANTOPEN {
		return fmt.Errorf("opening event cache %q: %w", path, err)
	}

	dir := filepath.Dir(path)
	info, statErr := os.Stat(dir)
	switch {
	case statErr != nil:
		return fmt.Errorf("cannot create event cache at %q: %w", path, statErr)
	case !info.IsDir():
		return fmt.Errorf("cannot create event cache at %q: %q is not a directory", path, dir)
	default:
		return fmt.Errorf("cannot create event cache at %q: permission denied in %q: %w", path, dir, err)
	}
}
