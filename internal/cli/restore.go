package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/runnerr0/sitetracker/internal/backup"
)

// Execute implements the go-flags Commander interface for RestoreCommand.
func (c *RestoreCommand) Execute(args []string) error {
	a, err := setup(c.globals)
	if err != nil {
		return err
	}
	defer a.Close()
	return c.run(context.Background(), a)
}

func (c *RestoreCommand) run(ctx context.Context, a *app) error {
	if a.bridge == nil {
		return fmt.Errorf("backup is disabled in config")
	}

	var (
		outcome backup.RestoreOutcome
		err     error
	)
	if c.Force {
		outcome, err = a.bridge.ForceRestore(ctx)
		if errors.Is(err, backup.ErrNoBackup) {
			return fmt.Errorf("no unexpired backup to restore")
		}
	} else {
		outcome, err = a.bridge.Restore(ctx)
	}
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		return json.NewEncoder(os.Stdout).Encode(map[string]any{"outcome": outcome.String()})
	}
	switch outcome {
	case backup.RestoreSkipped:
		fmt.Println("Store already has data; nothing restored. Use --force to overwrite.")
	case backup.RestoreFromBackup:
		fmt.Println("Restored tracking data from backup.")
	case backup.RestoreInitialized:
		fmt.Println("No usable backup; store initialized empty.")
	}
	return nil
}
