package backup

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/runnerr0/sitetracker/internal/logging"
	"github.com/runnerr0/sitetracker/internal/tracker"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNoBackup is returned for an entry that is absent or has expired.
var ErrNoBackup = errors.New("backup: no entry")

// Cookie is one mirrored entry. Values are stored URL-escaped, the way a
// browser cookie would carry them.
type Cookie struct {
	Name      string    `gorm:"primaryKey;size:64"`
	Value     string    `gorm:"type:text;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	UpdatedAt time.Time
}

func (Cookie) TableName() string { return "backup_cookies" }

// Jar is a cookie-like key/value medium with per-entry expiry, kept in its
// own SQLite file so it survives loss of the primary database.
type Jar struct {
	db     *gorm.DB
	clock  tracker.Clock
	expiry time.Duration
}

// OpenJar opens (creating if needed) the jar at path.
func OpenJar(path string, expiry time.Duration, clock tracker.Clock, log logging.Logger) (*Jar, error) {
	if log == nil {
		log = logging.NewNop()
	}
	if clock == nil {
		clock = tracker.SystemClock{}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: NewGormLogger(log.With("component", "backup")),
	})
	if err != nil {
		return nil, fmt.Errorf("open backup jar: %w", err)
	}
	if err := db.AutoMigrate(&Cookie{}); err != nil {
		return nil, fmt.Errorf("migrate backup jar: %w", err)
	}
	return &Jar{db: db, clock: clock, expiry: expiry}, nil
}

// Set writes value under name with a fresh expiry.
func (j *Jar) Set(ctx context.Context, name, value string) error {
	c := Cookie{
		Name:      name,
		Value:     url.PathEscape(value),
		ExpiresAt: j.clock.Now().Add(j.expiry).UTC(),
	}
	err := j.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&c).Error
	if err != nil {
		return fmt.Errorf("set backup %s: %w", name, err)
	}
	return nil
}

// Get returns the unexpired value stored under name, or ErrNoBackup.
func (j *Jar) Get(ctx context.Context, name string) (string, error) {
	var c Cookie
	err := j.db.WithContext(ctx).
		Where("name = ? AND expires_at > ?", name, j.clock.Now().UTC()).
		Take(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNoBackup
	}
	if err != nil {
		return "", fmt.Errorf("get backup %s: %w", name, err)
	}
	v, err := url.PathUnescape(c.Value)
	if err != nil {
		return "", fmt.Errorf("unescape backup %s: %w", name, err)
	}
	return v, nil
}

// PurgeExpired deletes expired entries and reports how many were removed.
func (j *Jar) PurgeExpired(ctx context.Context) (int64, error) {
	res := j.db.WithContext(ctx).
		Where("expires_at <= ?", j.clock.Now().UTC()).
		Delete(&Cookie{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge expired backups: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Close releases the underlying database.
func (j *Jar) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
