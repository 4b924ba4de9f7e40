package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/runnerr0/sitetracker/internal/logging"
	"github.com/runnerr0/sitetracker/internal/storage"
	"github.com/runnerr0/sitetracker/internal/summary"
	"github.com/runnerr0/sitetracker/internal/tracker"
	"github.com/tidwall/gjson"
)

// MessageMediaStateUpdate is the runtime message type a page sends with its
// media state.
const MessageMediaStateUpdate = "MEDIA_STATE_UPDATE"

// Engine is the event surface of the time-attribution engine.
type Engine interface {
	TabActivated(ctx context.Context, tab tracker.TabInfo) error
	TabUpdated(ctx context.Context, tab tracker.TabInfo, urlChanged bool) error
	TabRemoved(ctx context.Context, tabID int) error
	WindowFocusChanged(ctx context.Context, windowID int) error
	MediaSignal(ctx context.Context, tabID int, sig tracker.Signal) (tracker.Transition, error)
	Snapshot() tracker.Snapshot
}

// Store is the query interface over the aggregates.
type Store interface {
	GetTrackingData(ctx context.Context) (*storage.TrackingData, error)
	SetTrackingData(ctx context.Context, data *storage.TrackingData) error
	GetMediaTimes(ctx context.Context) (map[string]int64, error)
}

// Resetter fires the daily reset on demand.
type Resetter interface {
	Fire(ctx context.Context) error
}

// Handler serves the extension's events and the presentation queries.
type Handler struct {
	engine      Engine
	store       Store
	resetter    Resetter
	hiddenSites []string
	version     string
	started     time.Time
	log         logging.Logger
}

type tabRequest struct {
	TabID      *int   `json:"tabId"`
	WindowID   int    `json:"windowId"`
	URL        string `json:"url"`
	Active     bool   `json:"active"`
	URLChanged bool   `json:"urlChanged"`
}

type windowFocusRequest struct {
	WindowID *int `json:"windowId"`
}

func (r tabRequest) tab() tracker.TabInfo {
	return tracker.TabInfo{ID: *r.TabID, WindowID: r.WindowID, URL: r.URL, Active: r.Active}
}

func bindTab(c *gin.Context) (tabRequest, bool) {
	var req tabRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, bindError(err))
		return req, false
	}
	if req.TabID == nil {
		writeError(c, badRequest("missing_tab_id", "tabId is required"))
		return req, false
	}
	return req, true
}

func bindError(err error) *APIError {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return newAPIError(http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
	}
	return badRequest("invalid_json", "invalid request body")
}

// engineResult answers an event. Attribution failures are storage failures.
func (h *Handler) engineResult(c *gin.Context, err error) {
	if err != nil {
		h.log.Error("event not attributed", "path", c.FullPath(), "error", err.Error())
		writeError(c, internalError("failed to record time"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) TabActivated(c *gin.Context) {
	req, ok := bindTab(c)
	if !ok {
		return
	}
	h.engineResult(c, h.engine.TabActivated(c.Request.Context(), req.tab()))
}

func (h *Handler) TabUpdated(c *gin.Context) {
	req, ok := bindTab(c)
	if !ok {
		return
	}
	h.engineResult(c, h.engine.TabUpdated(c.Request.Context(), req.tab(), req.URLChanged))
}

func (h *Handler) TabRemoved(c *gin.Context) {
	req, ok := bindTab(c)
	if !ok {
		return
	}
	h.engineResult(c, h.engine.TabRemoved(c.Request.Context(), *req.TabID))
}

func (h *Handler) WindowFocus(c *gin.Context) {
	var req windowFocusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, bindError(err))
		return
	}
	if req.WindowID == nil {
		writeError(c, badRequest("missing_window_id", "windowId is required"))
		return
	}
	h.engineResult(c, h.engine.WindowFocusChanged(c.Request.Context(), *req.WindowID))
}

// Message receives a runtime message from a page. Every well-formed message
// is acknowledged, whatever its type or outcome.
func (h *Handler) Message(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, bindError(err))
		return
	}
	if !gjson.ValidBytes(body) {
		writeError(c, badRequest("invalid_json", "invalid request body"))
		return
	}

	env := gjson.ParseBytes(body)
	msgType := env.Get("message.type").String()
	tabID := env.Get("sender.tab.id")

	switch {
	case msgType != MessageMediaStateUpdate:
		h.log.Debug("ignoring message", "type", msgType)
	case !tabID.Exists():
		h.log.Debug("media update without sender tab")
	default:
		sig := signalFrom(env.Get("message.data"))
		tr, err := h.engine.MediaSignal(c.Request.Context(), int(tabID.Int()), sig)
		if err != nil {
			h.log.Error("media update not attributed", "tabId", tabID.Int(), "error", err.Error())
		} else {
			h.log.Debug("media update", "tabId", tabID.Int(), "domain", sig.Domain, "transition", tr.String())
		}
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func signalFrom(data gjson.Result) tracker.Signal {
	return tracker.Signal{
		Domain:    data.Get("domain").String(),
		IsPlaying: data.Get("isPlaying").Bool(),
		PlayTime:  data.Get("playTime").Int(),
		URL:       data.Get("url").String(),
		VideoID:   data.Get("videoId").String(),
	}
}

func (h *Handler) GetTracking(c *gin.Context) {
	data, err := h.store.GetTrackingData(c.Request.Context())
	if err != nil {
		h.log.Error("read tracking data", "error", err.Error())
		writeError(c, internalError("failed to read tracking data"))
		return
	}
	c.JSON(http.StatusOK, data)
}

func (h *Handler) PutTracking(c *gin.Context) {
	var data storage.TrackingData
	if err := c.ShouldBindJSON(&data); err != nil {
		writeError(c, bindError(err))
		return
	}
	for _, m := range []map[string]int64{data.SiteTimes, data.MediaTimes} {
		for domain, secs := range m {
			if secs < 0 {
				apiErr := badRequest("negative_seconds", "durations must not be negative")
				apiErr.Details = gin.H{"domain": domain}
				writeError(c, apiErr)
				return
			}
		}
	}

	if err := h.store.SetTrackingData(c.Request.Context(), &data); err != nil {
		h.log.Error("write tracking data", "error", err.Error())
		writeError(c, internalError("failed to write tracking data"))
		return
	}
	h.GetTracking(c)
}

func (h *Handler) GetMedia(c *gin.Context) {
	media, err := h.store.GetMediaTimes(c.Request.Context())
	if err != nil {
		h.log.Error("read media times", "error", err.Error())
		writeError(c, internalError("failed to read media times"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"mediaTimes": media})
}

func (h *Handler) GetSummary(c *gin.Context) {
	data, err := h.store.GetTrackingData(c.Request.Context())
	if err != nil {
		h.log.Error("read tracking data", "error", err.Error())
		writeError(c, internalError("failed to read tracking data"))
		return
	}
	c.JSON(http.StatusOK, summary.Build(data, h.hiddenSites))
}

func (h *Handler) Reset(c *gin.Context) {
	if h.resetter == nil {
		writeError(c, newAPIError(http.StatusServiceUnavailable, "reset_unavailable", "reset scheduler not running"))
		return
	}
	if err := h.resetter.Fire(c.Request.Context()); err != nil {
		writeError(c, internalError("reset incomplete"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"reset": true})
}

func (h *Handler) Status(c *gin.Context) {
	snap := h.engine.Snapshot()
	playing := 0
	for _, st := range snap.Media {
		if st.Playing {
			playing++
		}
	}
	body := gin.H{
		"status":        "ok",
		"version":       h.version,
		"uptimeSeconds": int64(time.Since(h.started).Seconds()),
		"tabs":          snap.Tabs,
		"playing":       playing,
	}
	if snap.Active != nil {
		body["activeDomain"] = snap.Active.Domain
	}
	c.JSON(http.StatusOK, body)
}
