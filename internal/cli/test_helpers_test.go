package cli

import (
	"bytes"
	"io"
	"net"
	"os"
	"testing"

	"github.com/runnerr0/sitetracker/internal/config"
	"github.com/runnerr0/sitetracker/internal/logging"
	"github.com/stretchr/testify/require"
)

// captureOutput captures stdout during fn execution and returns it as a string.
func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

// freePort returns a localhost port with nothing listening on it.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

// newTestApp opens an app over a temporary storage directory. The daemon
// address points at a port nobody listens on.
func newTestApp(t *testing.T, mutate ...func(*config.Config)) *app {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.Path = t.TempDir()
	cfg.Daemon.Host = "127.0.0.1"
	cfg.Daemon.Port = freePort(t)
	cfg.Reset.Timezone = "UTC"
	for _, fn := range mutate {
		fn(cfg)
	}

	a, err := openApp(cfg, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}
