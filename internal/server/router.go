// Package server exposes the engine and the aggregate store over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/runnerr0/sitetracker/internal/logging"
)

// Deps are the collaborators the router serves.
type Deps struct {
	Engine         Engine
	Store          Store
	Resetter       Resetter
	HiddenSites    []string
	CORSOrigins    []string
	MaxRequestSize int64
	Version        string
	Log            logging.Logger
}

// New builds the gin engine with every route registered.
func New(d Deps) *gin.Engine {
	log := d.Log
	if log == nil {
		log = logging.NewNop()
	}
	h := &Handler{
		engine:      d.Engine,
		store:       d.Store,
		resetter:    d.Resetter,
		hiddenSites: d.HiddenSites,
		version:     d.Version,
		started:     time.Now(),
		log:         log.With("component", "server"),
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), RequestID(), AccessLog(h.log), CORS(d.CORSOrigins), MaxBody(d.MaxRequestSize))

	engine.GET("/status", h.Status)

	api := engine.Group("/api")
	events := api.Group("/events")
	events.POST("/tabs/activated", h.TabActivated)
	events.POST("/tabs/updated", h.TabUpdated)
	events.POST("/tabs/removed", h.TabRemoved)
	events.POST("/windows/focus", h.WindowFocus)

	api.POST("/messages", h.Message)
	api.GET("/tracking", h.GetTracking)
	api.PUT("/tracking", h.PutTracking)
	api.GET("/media", h.GetMedia)
	api.GET("/summary", h.GetSummary)
	api.POST("/reset", h.Reset)

	engine.NoRoute(func(c *gin.Context) {
		writeError(c, newAPIError(http.StatusNotFound, "not_found", "no such route"))
	})

	return engine
}

// Serve runs handler on addr until ctx is cancelled, then shuts down,
// giving in-flight requests up to five seconds.
func Serve(ctx context.Context, addr string, handler http.Handler, log logging.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}
