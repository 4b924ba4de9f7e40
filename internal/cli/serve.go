package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/runnerr0/sitetracker/internal/browser"
	"github.com/runnerr0/sitetracker/internal/config"
	"github.com/runnerr0/sitetracker/internal/scheduler"
	"github.com/runnerr0/sitetracker/internal/server"
	"github.com/runnerr0/sitetracker/internal/tracker"
)

// Execute implements the go-flags Commander interface for ServeCommand.
func (c *ServeCommand) Execute(args []string) error {
	a, err := setup(c.globals)
	if err != nil {
		return err
	}
	defer a.Close()
	c.applyOverrides(a.cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return c.serve(ctx, a)
}

func (c *ServeCommand) applyOverrides(cfg *config.Config) {
	if c.Host != "" {
		cfg.Daemon.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Daemon.Port = c.Port
	}
	if c.Source != "" {
		cfg.Source.Mode = c.Source
	}
	if c.DevTools != "" {
		cfg.Source.DevToolsURL = c.DevTools
	}
}

// serve runs every daemon component until ctx is cancelled.
func (c *ServeCommand) serve(ctx context.Context, a *app) error {
	cfg, log := a.cfg, a.log

	if a.bridge != nil {
		outcome, err := a.bridge.Restore(ctx)
		if err != nil {
			return fmt.Errorf("restore: %w", err)
		}
		log.Info("startup restore", "outcome", outcome.String())
		if n, err := a.jar.PurgeExpired(ctx); err != nil {
			log.Warn("purge expired backups", "error", err.Error())
		} else if n > 0 {
			log.Debug("purged expired backups", "count", n)
		}
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	engine := tracker.NewEngine(a.store, tracker.SystemClock{}, engineOptions(cfg), log.With("component", "engine"))

	var mirror scheduler.Mirror
	if a.bridge != nil {
		mirror = a.bridge
	}
	sched := scheduler.New(a.store, mirror, engine, tracker.SystemClock{}, loc, log)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	spawn := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	var resetter server.Resetter
	if cfg.Reset.Enabled {
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start reset scheduler: %w", err)
		}
		resetter = sched
		spawn(func() { sched.Run(ctx) })
	}
	if a.bridge != nil {
		spawn(func() { a.bridge.Watch(ctx, a.store.Changes()) })
	}
	spawn(func() { engine.RunSweeper(ctx, cfg.SweepInterval()) })

	if cfg.Source.Mode == config.SourceCDP {
		w := browser.NewWatcher(
			browser.NewDevTools(cfg.Source.DevToolsURL),
			browser.NewCDPProber(),
			engine,
			tracker.SystemClock{},
			sensingOptions(cfg),
			log,
		)
		spawn(func() {
			if err := w.Run(ctx, seconds(cfg.Source.PollIntervalSeconds)); err != nil {
				log.Warn("close devtools connections", "error", err.Error())
			}
		})
		log.Info("polling devtools", "url", cfg.Source.DevToolsURL)
	}

	gin.SetMode(gin.ReleaseMode)
	router := server.New(server.Deps{
		Engine:         engine,
		Store:          a.store,
		Resetter:       resetter,
		HiddenSites:    cfg.Summary.HiddenSites,
		CORSOrigins:    cfg.Daemon.CORSOrigins,
		MaxRequestSize: int64(cfg.Daemon.MaxRequestSize),
		Version:        c.version,
		Log:            log,
	})

	addr := net.JoinHostPort(cfg.Daemon.Host, strconv.Itoa(cfg.Daemon.Port))
	err = server.Serve(ctx, addr, router, log)

	cancel()
	wg.Wait()
	finalFlush(a, engine)
	return err
}

// finalFlush credits whatever was open at shutdown and mirrors the result,
// since the backup watcher has already stopped.
func finalFlush(a *app, engine *tracker.Engine) {
	ctx := context.Background()
	if err := engine.WindowFocusChanged(ctx, tracker.WindowNone); err != nil {
		a.log.Warn("final flush", "error", err.Error())
	}
	if a.bridge == nil {
		return
	}
	if err := a.bridge.Mirror(ctx); err != nil {
		a.log.Warn("final backup mirror", "error", err.Error())
	}
}
