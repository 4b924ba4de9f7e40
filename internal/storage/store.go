package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned by Get for a key that has never been written.
var ErrNotFound = errors.New("storage: key not found")

// Store defines the durable aggregate operations.
type Store interface {
	GetTrackingData(ctx context.Context) (*TrackingData, error)
	SetTrackingData(ctx context.Context, data *TrackingData) error
	GetMediaTimes(ctx context.Context) (map[string]int64, error)
	AddSiteTime(ctx context.Context, domain string, seconds int64) error
	AddMediaTime(ctx context.Context, domain string, seconds int64) error
	Reset(ctx context.Context) error
	HasAggregates(ctx context.Context) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Audit(ctx context.Context, action, detail string) error
	RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error)
	GetStats(ctx context.Context) (*Stats, error)
	Changes() <-chan struct{}
	Close() error
}

// SQLiteStore implements Store on a SQLite key/value table. All writes run in
// a transaction on a single connection, so concurrent read-modify-write
// increments are applied one after another and none is lost.
type SQLiteStore struct {
	db      *sql.DB
	changes chan struct{}

	// Prepared statements
	getKV    *sql.Stmt
	upsertKV *sql.Stmt
	deleteKV *sql.Stmt
	addAudit *sql.Stmt
}

// Open opens (creating if needed) the SQLite database at path and applies
// migrations. Use ":memory:" for a private in-memory database.
func Open(path, journalMode string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := NewMigrationRunner(db).WithJournalMode(journalMode).Run(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// NewSQLiteStore creates a new SQLiteStore from an already-opened and migrated database.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db, changes: make(chan struct{}, 1)}

	if err := s.prepareStatements(); err != nil {
		return nil, fmt.Errorf("prepare statements: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.getKV, err = s.db.Prepare(`SELECT value FROM kv WHERE key = ?`)
	if err != nil {
		return err
	}

	s.upsertKV, err = s.db.Prepare(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`)
	if err != nil {
		return err
	}

	s.deleteKV, err = s.db.Prepare(`DELETE FROM kv WHERE key = ?`)
	if err != nil {
		return err
	}

	s.addAudit, err = s.db.Prepare(`INSERT INTO audit_log (action, detail) VALUES (?, ?)`)
	return err
}

// Changes returns a coalescing notification channel: one pending signal
// stands for any number of aggregate writes committed since the last receive.
func (s *SQLiteStore) Changes() <-chan struct{} {
	return s.changes
}

func (s *SQLiteStore) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

func isAggregateKey(key string) bool {
	for _, k := range AggregateKeys {
		if k == key {
			return true
		}
	}
	return false
}

// withTx runs fn inside a transaction and commits it.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// readJSON decodes the value stored under key into dst. A missing key leaves
// dst untouched and reports false.
func (s *SQLiteStore) readJSON(ctx context.Context, tx *sql.Tx, key string, dst any) (bool, error) {
	var raw string
	err := tx.StmtContext(ctx, s.getKV).QueryRowContext(ctx, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *SQLiteStore) writeJSON(ctx context.Context, tx *sql.Tx, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if _, err := tx.StmtContext(ctx, s.upsertKV).ExecContext(ctx, key, string(data)); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) readAll(ctx context.Context, tx *sql.Tx) (*TrackingData, error) {
	data := EmptyTrackingData()
	if _, err := s.readJSON(ctx, tx, KeySiteTimes, &data.SiteTimes); err != nil {
		return nil, err
	}
	if _, err := s.readJSON(ctx, tx, KeyUniqueSites, &data.UniqueSites); err != nil {
		return nil, err
	}
	if _, err := s.readJSON(ctx, tx, KeyMediaTimes, &data.MediaTimes); err != nil {
		return nil, err
	}
	data.normalize()
	return data, nil
}

func (s *SQLiteStore) writeAll(ctx context.Context, tx *sql.Tx, data *TrackingData) error {
	data.normalize()
	if err := s.writeJSON(ctx, tx, KeySiteTimes, data.SiteTimes); err != nil {
		return err
	}
	if err := s.writeJSON(ctx, tx, KeyUniqueSites, data.UniqueSites); err != nil {
		return err
	}
	return s.writeJSON(ctx, tx, KeyMediaTimes, data.MediaTimes)
}

// GetTrackingData returns all three aggregates. Keys never written read as empty.
func (s *SQLiteStore) GetTrackingData(ctx context.Context) (*TrackingData, error) {
	var data *TrackingData
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		data, err = s.readAll(ctx, tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// SetTrackingData replaces all three aggregates atomically.
func (s *SQLiteStore) SetTrackingData(ctx context.Context, data *TrackingData) error {
	if data == nil {
		data = EmptyTrackingData()
	}
	if err := s.withTx(ctx, func(tx *sql.Tx) error {
		return s.writeAll(ctx, tx, data)
	}); err != nil {
		return err
	}
	s.notify()
	return nil
}

// GetMediaTimes returns the per-domain media seconds. Never written reads as empty.
func (s *SQLiteStore) GetMediaTimes(ctx context.Context) (map[string]int64, error) {
	media := map[string]int64{}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := s.readJSON(ctx, tx, KeyMediaTimes, &media)
		return err
	})
	if err != nil {
		return nil, err
	}
	if media == nil {
		media = map[string]int64{}
	}
	return media, nil
}

// AddSiteTime credits seconds of foreground time to domain and records the
// domain in uniqueSites. Empty domains and non-positive seconds are ignored.
func (s *SQLiteStore) AddSiteTime(ctx context.Context, domain string, seconds int64) error {
	if domain == "" || seconds <= 0 {
		return nil
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		sites := map[string]int64{}
		if _, err := s.readJSON(ctx, tx, KeySiteTimes, &sites); err != nil {
			return err
		}
		var unique []string
		if _, err := s.readJSON(ctx, tx, KeyUniqueSites, &unique); err != nil {
			return err
		}
		if sites == nil {
			sites = map[string]int64{}
		}
		sites[domain] += seconds
		if !contains(unique, domain) {
			unique = append(unique, domain)
		}
		if err := s.writeJSON(ctx, tx, KeySiteTimes, sites); err != nil {
			return err
		}
		return s.writeJSON(ctx, tx, KeyUniqueSites, unique)
	})
	if err != nil {
		return err
	}
	s.notify()
	return nil
}

// AddMediaTime credits seconds of playback to domain. Empty domains and
// non-positive seconds are ignored.
func (s *SQLiteStore) AddMediaTime(ctx context.Context, domain string, seconds int64) error {
	if domain == "" || seconds <= 0 {
		return nil
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		media := map[string]int64{}
		if _, err := s.readJSON(ctx, tx, KeyMediaTimes, &media); err != nil {
			return err
		}
		if media == nil {
			media = map[string]int64{}
		}
		media[domain] += seconds
		return s.writeJSON(ctx, tx, KeyMediaTimes, media)
	})
	if err != nil {
		return err
	}
	s.notify()
	return nil
}

// Reset empties all three aggregates and records the reset in the audit log.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.writeAll(ctx, tx, EmptyTrackingData()); err != nil {
			return err
		}
		_, err := tx.StmtContext(ctx, s.addAudit).ExecContext(ctx, "reset", "")
		return err
	})
	if err != nil {
		return err
	}
	s.notify()
	return nil
}

// HasAggregates reports whether any of the three aggregate keys exists.
func (s *SQLiteStore) HasAggregates(ctx context.Context) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM kv WHERE key IN (?, ?, ?)`,
		KeySiteTimes, KeyUniqueSites, KeyMediaTimes,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count aggregates: %w", err)
	}
	return n > 0, nil
}

// Get returns the raw value stored under key, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := s.getKV.QueryRowContext(ctx, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return v, nil
}

// Set stores a raw value under key.
func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	if _, err := s.upsertKV.ExecContext(ctx, key, value); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	if isAggregateKey(key) {
		s.notify()
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.deleteKV.ExecContext(ctx, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	if isAggregateKey(key) {
		s.notify()
	}
	return nil
}

// Audit appends a maintenance record.
func (s *SQLiteStore) Audit(ctx context.Context, action, detail string) error {
	if _, err := s.addAudit.ExecContext(ctx, action, detail); err != nil {
		return fmt.Errorf("audit %s: %w", action, err)
	}
	return nil
}

// RecentAudit returns up to limit audit entries, newest first.
func (s *SQLiteStore) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, action, detail, ts FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var (
			e  AuditEntry
			ts string
		)
		if err := rows.Scan(&e.ID, &e.Action, &e.Detail, &ts); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Time, err = parseTimestamp(ts)
		if err != nil {
			return nil, fmt.Errorf("parse audit timestamp: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetStats summarizes the current aggregates and the last recorded reset.
func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	data, err := s.GetTrackingData(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{Sites: len(data.SiteTimes), MediaSites: len(data.MediaTimes)}
	for _, v := range data.SiteTimes {
		stats.TotalSiteSeconds += v
	}
	for _, v := range data.MediaTimes {
		stats.TotalMediaSeconds += v
	}

	var ts sql.NullString
	err = s.db.QueryRowContext(ctx,
		`SELECT MAX(ts) FROM audit_log WHERE action = 'reset'`).Scan(&ts)
	if err != nil {
		return nil, fmt.Errorf("query last reset: %w", err)
	}
	if ts.Valid {
		if stats.LastReset, err = parseTimestamp(ts.String); err != nil {
			return nil, fmt.Errorf("parse last reset: %w", err)
		}
	}

	if stats.SchemaVersion, err = NewMigrationRunner(s.db).Version(); err != nil {
		return nil, fmt.Errorf("schema version: %w", err)
	}
	return stats, nil
}

// Close releases prepared statements. The caller owns the *sql.DB.
func (s *SQLiteStore) Close() error {
	for _, stmt := range []*sql.Stmt{s.getKV, s.upsertKV, s.deleteKV, s.addAudit} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return nil
}

// parseTimestamp handles the formats go-sqlite3 returns for DATETIME columns.
func parseTimestamp(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05Z",
	}
	s = strings.TrimSpace(s)
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
