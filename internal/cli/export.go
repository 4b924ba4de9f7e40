package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// Execute implements the go-flags Commander interface for ExportCommand.
func (c *ExportCommand) Execute(args []string) error {
	a, err := setup(c.globals)
	if err != nil {
		return err
	}
	defer a.Close()
	return c.run(context.Background(), a)
}

func (c *ExportCommand) run(ctx context.Context, a *app) error {
	data, err := a.store.GetTrackingData(ctx)
	if err != nil {
		return fmt.Errorf("read tracking data: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}
