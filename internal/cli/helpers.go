package cli

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/runnerr0/sitetracker/internal/backup"
	"github.com/runnerr0/sitetracker/internal/config"
	"github.com/runnerr0/sitetracker/internal/logging"
	"github.com/runnerr0/sitetracker/internal/sensing"
	"github.com/runnerr0/sitetracker/internal/storage"
	"github.com/runnerr0/sitetracker/internal/tracker"
)

// app bundles the resources a command works against.
type app struct {
	cfg    *config.Config
	log    logging.Logger
	db     *sql.DB
	store  *storage.SQLiteStore
	jar    *backup.Jar    // nil when backups are disabled
	bridge *backup.Bridge // nil when backups are disabled

	closers []io.Closer
}

// loadConfig reads --config, or the default path when it is empty.
func loadConfig(globals *GlobalFlags) (*config.Config, error) {
	if globals != nil && globals.Config != "" {
		return config.LoadOrCreateAt(globals.Config)
	}
	return config.LoadOrCreate()
}

// newLogger builds the logger described by cfg. --verbose forces debug level
// and adds console output.
func newLogger(cfg *config.Config, verbose bool) (logging.Logger, io.Closer, error) {
	opts := logging.Options{
		Level:      cfg.Logging.Level,
		Writer:     cfg.Logging.Writer,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	}
	path, err := cfg.LogPath()
	if err != nil {
		return nil, nil, err
	}
	opts.File = path
	if verbose {
		opts.Level = "debug"
		opts.Writer = appendUnique(opts.Writer, "console")
	}
	return logging.New(opts)
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}

// setup loads config, starts logging and opens the stores.
func setup(globals *GlobalFlags) (*app, error) {
	cfg, err := loadConfig(globals)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	verbose := globals != nil && globals.Verbose
	log, closer, err := newLogger(cfg, verbose)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	a, err := openApp(cfg, log)
	if err != nil {
		closer.Close()
		return nil, err
	}
	a.closers = append([]io.Closer{closer}, a.closers...)
	return a, nil
}

// openApp opens the primary store and, when enabled, the backup jar.
func openApp(cfg *config.Config, log logging.Logger) (*app, error) {
	dbPath, err := cfg.DBPath()
	if err != nil {
		return nil, err
	}
	db, err := storage.Open(dbPath, cfg.Storage.SQLiteJournalMode)
	if err != nil {
		return nil, err
	}
	store, err := storage.NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create store: %w", err)
	}

	a := &app{cfg: cfg, log: log, db: db, store: store}
	a.closers = append(a.closers, db, store)

	if cfg.Backup.Enabled {
		path, err := cfg.BackupPath()
		if err != nil {
			a.Close()
			return nil, err
		}
		jar, err := backup.OpenJar(path, cfg.BackupExpiry(), nil, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.jar = jar
		a.bridge = backup.NewBridge(store, jar, log.With("component", "backup"))
		a.closers = append(a.closers, jar)
	}
	return a, nil
}

// Close releases everything in reverse order of opening.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if a.closers[i] != nil {
			errs = append(errs, a.closers[i].Close())
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func engineOptions(cfg *config.Config) tracker.Options {
	return tracker.Options{
		MediaStopCap:         seconds(cfg.Tracking.MediaStopCapSeconds),
		HeartbeatCap:         seconds(cfg.Tracking.HeartbeatCapSeconds),
		StopMediaOnTabSwitch: cfg.Tracking.StopMediaOnTabSwitch,
		StopFromLastUpdate:   cfg.Tracking.MediaStopFromLastUpdate,
		IgnoreDomains:        cfg.Tracking.IgnoreDomains,
	}
}

func sensingOptions(cfg *config.Config) sensing.Options {
	return sensing.Options{
		Heartbeat:          seconds(cfg.Sensing.HeartbeatSeconds),
		MaxUpdateGap:       seconds(cfg.Sensing.MaxUpdateGapSeconds),
		TimeUpdateThrottle: seconds(cfg.Sensing.TimeUpdateThrottleSeconds),
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// daemonURL returns the base URL of the configured daemon.
func daemonURL(cfg *config.Config) string {
	host := cfg.Daemon.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Daemon.Port))
}

// checkDaemon reports whether the daemon answers /status within a second.
func checkDaemon(cfg *config.Config) bool {
	client := &http.Client{Timeout: 1 * time.Second}
	resp, err := client.Get(daemonURL(cfg) + "/status")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
