package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/runnerr0/sitetracker/internal/scheduler"
	"github.com/runnerr0/sitetracker/internal/tracker"
)

// Execute implements the go-flags Commander interface for ResetCommand.
func (c *ResetCommand) Execute(args []string) error {
	if !c.Force {
		if err := confirm(os.Stdin, "RESET"); err != nil {
			return err
		}
	}

	a, err := setup(c.globals)
	if err != nil {
		return err
	}
	defer a.Close()
	return c.run(context.Background(), a)
}

// confirm prompts for word on in and fails unless it is typed exactly.
func confirm(in io.Reader, word string) error {
	fmt.Println("⚠ WARNING: This will permanently zero all tracked time.")
	fmt.Println("  - Active time per site")
	fmt.Println("  - Media playback time per site")
	fmt.Println("  - The visited-site list and its backup")
	fmt.Println()
	fmt.Printf("Type %q to confirm: ", word)

	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		return fmt.Errorf("aborted: no input received")
	}
	if strings.TrimSpace(scanner.Text()) != word {
		return fmt.Errorf("aborted: confirmation text did not match")
	}
	return nil
}

func (c *ResetCommand) run(ctx context.Context, a *app) error {
	via := "daemon"
	if checkDaemon(a.cfg) {
		if err := resetViaDaemon(ctx, daemonURL(a.cfg)); err != nil {
			return err
		}
	} else {
		via = "local"
		loc, err := a.cfg.Location()
		if err != nil {
			return err
		}
		var mirror scheduler.Mirror
		if a.bridge != nil {
			mirror = a.bridge
		}
		s := scheduler.New(a.store, mirror, nil, tracker.SystemClock{}, loc, a.log)
		if err := s.Fire(ctx); err != nil {
			return fmt.Errorf("reset failed: %w", err)
		}
	}

	if c.globals != nil && c.globals.JSON {
		return json.NewEncoder(os.Stdout).Encode(map[string]any{"reset": true, "via": via})
	}
	fmt.Println("All tracked time reset.")
	return nil
}

// resetViaDaemon asks a running daemon to reset so its open sessions are
// rebased as well.
func resetViaDaemon(ctx context.Context, baseURL string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/reset", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("reset via daemon: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("reset via daemon: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}
