package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/runnerr0/sitetracker/internal/config"
	"github.com/runnerr0/sitetracker/internal/scheduler"
	"github.com/runnerr0/sitetracker/internal/storage"
	"github.com/runnerr0/sitetracker/internal/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfirm(t *testing.T) {
	captureOutput(t, func() {
		assert.NoError(t, confirm(strings.NewReader("RESET\n"), "RESET"))
		assert.ErrorContains(t, confirm(strings.NewReader("reset\n"), "RESET"), "did not match")
		assert.ErrorContains(t, confirm(strings.NewReader(""), "RESET"), "no input")
	})
}

func TestReset_Local(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, a.store.AddSiteTime(ctx, "a.com", 30))
	require.NoError(t, a.bridge.Mirror(ctx))

	cmd := &ResetCommand{Force: true, globals: &GlobalFlags{}}
	var err error
	out := captureOutput(t, func() { err = cmd.run(ctx, a) })
	require.NoError(t, err)
	assert.Contains(t, out, "All tracked time reset.")

	data, err := a.store.GetTrackingData(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.EmptyTrackingData(), data)

	site, err := a.jar.Get(ctx, storage.KeySiteTimes)
	require.NoError(t, err)
	assert.Equal(t, "{}", site)

	_, err = a.store.Get(ctx, scheduler.AlarmKey)
	assert.NoError(t, err, "a reset arms the next midnight")
}

func TestRestore(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, a.jar.Set(ctx, storage.KeySiteTimes, `{"a.com":12}`))
	require.NoError(t, a.jar.Set(ctx, storage.KeyUniqueSites, `["a.com"]`))

	cmd := &RestoreCommand{globals: &GlobalFlags{JSON: true}}
	var err error
	out := captureOutput(t, func() { err = cmd.run(ctx, a) })
	require.NoError(t, err)
	assert.JSONEq(t, `{"outcome":"restored"}`, out)

	data, err := a.store.GetTrackingData(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"a.com": 12}, data.SiteTimes)

	// A second plain restore leaves the now non-empty store alone.
	out = captureOutput(t, func() { err = cmd.run(ctx, a) })
	require.NoError(t, err)
	assert.JSONEq(t, `{"outcome":"skipped"}`, out)
}

func TestRestore_ForceWithoutBackup(t *testing.T) {
	a := newTestApp(t)
	cmd := &RestoreCommand{Force: true, globals: &GlobalFlags{}}
	err := cmd.run(context.Background(), a)
	assert.ErrorContains(t, err, "no unexpired backup")
}

func TestRestore_BackupDisabled(t *testing.T) {
	a := newTestApp(t, func(c *config.Config) { c.Backup.Enabled = false })
	cmd := &RestoreCommand{globals: &GlobalFlags{}}
	assert.ErrorContains(t, cmd.run(context.Background(), a), "backup is disabled")
}

func TestExport(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, a.store.AddSiteTime(ctx, "a.com", 3))
	require.NoError(t, a.store.AddMediaTime(ctx, "v.com", 4))

	cmd := &ExportCommand{globals: &GlobalFlags{}}
	var err error
	out := captureOutput(t, func() { err = cmd.run(ctx, a) })
	require.NoError(t, err)
	assert.JSONEq(t, `{"siteTimes":{"a.com":3},"uniqueSites":["a.com"],"mediaTimes":{"v.com":4}}`, out)
}

func TestServe_EndToEnd(t *testing.T) {
	a := newTestApp(t)
	cmd := &ServeCommand{globals: &GlobalFlags{}, version: "test"}
	base := daemonURL(a.cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cmd.serve(ctx, a) }()

	require.Eventually(t, func() bool { return checkDaemon(a.cfg) }, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Post(base+"/api/events/tabs/activated", "application/json",
		strings.NewReader(`{"tabId":1,"windowId":1,"url":"https://example.com/"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/status")
	require.NoError(t, err)
	var status map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()
	assert.Equal(t, "example.com", status["activeDomain"])

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}

	_, err = a.store.Get(context.Background(), scheduler.AlarmKey)
	assert.NoError(t, err, "serve arms the midnight reset")
	has, err := a.store.HasAggregates(context.Background())
	require.NoError(t, err)
	assert.True(t, has, "startup restore initializes the store")
}

func TestFinalFlush_ReachesBackup(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	clock := tracker.NewManualClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	engine := tracker.NewEngine(a.store, clock, engineOptions(a.cfg), a.log)

	require.NoError(t, engine.TabActivated(ctx, tracker.TabInfo{ID: 1, WindowID: 1, URL: "https://example.com/"}))
	clock.Advance(42 * time.Second)

	finalFlush(a, engine)

	backed, found, err := a.bridge.Load(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(42), backed.SiteTimes["example.com"])
	assert.Nil(t, engine.Snapshot().Active)
}

func TestApplyOverrides(t *testing.T) {
	cfg := config.DefaultConfig()
	cmd := &ServeCommand{Host: "0.0.0.0", Port: 9000, Source: config.SourceCDP, DevTools: "http://h:1"}
	cmd.applyOverrides(cfg)
	assert.Equal(t, "0.0.0.0", cfg.Daemon.Host)
	assert.Equal(t, 9000, cfg.Daemon.Port)
	assert.Equal(t, config.SourceCDP, cfg.Source.Mode)
	assert.Equal(t, "http://h:1", cfg.Source.DevToolsURL)
	assert.Equal(t, fmt.Sprintf("http://127.0.0.1:%d", 9000), daemonURL(cfg))
}
