package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/runnerr0/sitetracker/internal/scheduler"
	"github.com/runnerr0/sitetracker/internal/storage"
	"github.com/runnerr0/sitetracker/internal/summary"
)

// statusJSON is the JSON output structure for the status command.
type statusJSON struct {
	Version       string           `json:"version"`
	DatabasePath  string           `json:"database_path"`
	SchemaVersion int              `json:"schema_version"`
	Summary       *summary.Summary `json:"summary"`
	LastReset     string           `json:"last_reset,omitempty"`
	NextReset     string           `json:"next_reset,omitempty"`
	BackupEnabled bool             `json:"backup_enabled"`
	DaemonRunning bool             `json:"daemon_running"`
}

// Execute implements the go-flags Commander interface for StatusCommand.
func (c *StatusCommand) Execute(args []string) error {
	a, err := setup(c.globals)
	if err != nil {
		return err
	}
	defer a.Close()
	return c.run(context.Background(), a)
}

func (c *StatusCommand) run(ctx context.Context, a *app) error {
	data, err := a.store.GetTrackingData(ctx)
	if err != nil {
		return fmt.Errorf("read tracking data: %w", err)
	}
	stats, err := a.store.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}
	next, err := nextReset(ctx, a.store)
	if err != nil {
		return err
	}
	recent, err := a.store.RecentAudit(ctx, 5)
	if err != nil {
		return fmt.Errorf("read audit log: %w", err)
	}

	dbPath, _ := a.cfg.DBPath()
	out := statusJSON{
		Version:       c.version,
		DatabasePath:  dbPath,
		SchemaVersion: stats.SchemaVersion,
		Summary:       summary.Build(data, a.cfg.Summary.HiddenSites),
		BackupEnabled: a.bridge != nil,
		DaemonRunning: checkDaemon(a.cfg),
	}
	if !stats.LastReset.IsZero() {
		out.LastReset = stats.LastReset.UTC().Format(time.RFC3339)
	}
	if !next.IsZero() {
		out.NextReset = next.UTC().Format(time.RFC3339)
	}

	if c.globals != nil && c.globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	return c.printHuman(out, stats, next, recent)
}

// nextReset reads the persisted alarm; zero when none is armed.
func nextReset(ctx context.Context, store *storage.SQLiteStore) (time.Time, error) {
	raw, err := store.Get(ctx, scheduler.AlarmKey)
	if errors.Is(err, storage.ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read alarm: %w", err)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, nil
	}
	return t, nil
}

func (c *StatusCommand) printHuman(out statusJSON, stats *storage.Stats, next time.Time, recent []storage.AuditEntry) error {
	fmt.Println("Site Tracker Status")
	fmt.Println("===================")
	fmt.Printf("Version:       %s\n", out.Version)
	fmt.Printf("Database:      %s (schema v%d)\n", out.DatabasePath, out.SchemaVersion)
	if !stats.LastReset.IsZero() {
		fmt.Printf("Last reset:    %s\n", stats.LastReset.Local().Format("2006-01-02 15:04"))
	}
	if !next.IsZero() {
		fmt.Printf("Next reset:    %s\n", next.Local().Format("2006-01-02 15:04"))
	}
	fmt.Println()

	if err := summary.Render(os.Stdout, out.Summary); err != nil {
		return err
	}

	fmt.Println()
	if out.DaemonRunning {
		fmt.Println("Daemon:        running")
	} else {
		fmt.Println("Daemon:        not running")
	}
	if out.BackupEnabled {
		fmt.Println("Backup:        enabled")
	} else {
		fmt.Println("Backup:        disabled")
	}

	if len(recent) > 0 {
		fmt.Println("\nRecent activity:")
		for _, e := range recent {
			fmt.Printf("  %s  %-18s %s\n", e.Time.Local().Format("2006-01-02 15:04"), e.Action, e.Detail)
		}
	}
	return nil
}
