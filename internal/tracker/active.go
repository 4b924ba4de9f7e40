package tracker

import (
	"context"
	"errors"
	"time"

	"github.com/runnerr0/sitetracker/internal/logging"
)

// Aggregator receives flushed seconds. storage.SQLiteStore satisfies it.
type Aggregator interface {
	AddSiteTime(ctx context.Context, domain string, seconds int64) error
	AddMediaTime(ctx context.Context, domain string, seconds int64) error
}

// ActiveSession is the domain currently credited with foreground time.
type ActiveSession struct {
	TabID  int       `json:"tabId"`
	Domain string    `json:"domain"`
	Start  time.Time `json:"start"`
}

// ActiveTimer attributes foreground time to at most one domain at a time.
// Every transition flushes the elapsed time of the session it replaces.
type ActiveTimer struct {
	sink     Aggregator
	resolver TabResolver
	ignore   map[string]struct{}
	log      logging.Logger

	session *ActiveSession
}

// NewActiveTimer returns a timer with no open session.
func NewActiveTimer(sink Aggregator, resolver TabResolver, ignore []string, log logging.Logger) *ActiveTimer {
	if log == nil {
		log = logging.NewNop()
	}
	set := make(map[string]struct{}, len(ignore))
	for _, d := range ignore {
		set[d] = struct{}{}
	}
	return &ActiveTimer{sink: sink, resolver: resolver, ignore: set, log: log}
}

// Session returns a copy of the open session, or nil.
func (a *ActiveTimer) Session() *ActiveSession {
	if a.session == nil {
		return nil
	}
	s := *a.session
	return &s
}

// OnForegroundChange flushes the open session and opens one for tabID. When
// the tab or its domain cannot be resolved the timer is left empty.
func (a *ActiveTimer) OnForegroundChange(ctx context.Context, now time.Time, tabID int) error {
	err := a.flush(ctx, now)

	domain, rerr := a.resolve(tabID)
	if rerr != nil {
		a.log.Debug("no foreground domain", "tabId", tabID, "reason", rerr.Error())
		a.session = nil
		return err
	}

	a.session = &ActiveSession{TabID: tabID, Domain: domain, Start: now}
	a.log.Debug("foreground domain", "tabId", tabID, "domain", domain)
	return err
}

// OnAllWindowsUnfocused flushes and clears the open session.
func (a *ActiveTimer) OnAllWindowsUnfocused(ctx context.Context, now time.Time) error {
	err := a.flush(ctx, now)
	a.session = nil
	return err
}

// OnRefocus makes the active tab of windowID the foreground. A window with no
// known active tab flushes and clears the open session.
func (a *ActiveTimer) OnRefocus(ctx context.Context, now time.Time, windowID int) error {
	tab, err := a.resolver.ActiveTab(windowID)
	if err != nil {
		a.log.Debug("refocused window has no active tab", "windowId", windowID)
		return a.OnForegroundChange(ctx, now, TabNone)
	}
	return a.OnForegroundChange(ctx, now, tab.ID)
}

// OnTabClosed flushes and clears the session if it belongs to tabID.
func (a *ActiveTimer) OnTabClosed(ctx context.Context, now time.Time, tabID int) error {
	if a.session == nil || a.session.TabID != tabID {
		return nil
	}
	err := a.flush(ctx, now)
	a.session = nil
	return err
}

// Rebase restarts the open session at now without flushing. Used after a
// reset so pre-reset time is not credited to the new period.
func (a *ActiveTimer) Rebase(now time.Time) {
	if a.session != nil {
		a.session.Start = now
	}
}

func (a *ActiveTimer) resolve(tabID int) (string, error) {
	rawURL, err := a.resolver.TabURL(tabID)
	if err != nil {
		return "", err
	}
	domain, err := ExtractDomain(rawURL)
	if err != nil {
		return "", err
	}
	if _, skip := a.ignore[domain]; skip {
		return "", errIgnored
	}
	return domain, nil
}

var errIgnored = errors.New("domain ignored by configuration")

// flush credits the open session's elapsed whole seconds. Non-positive
// elapsed time is discarded. The session itself is left in place.
func (a *ActiveTimer) flush(ctx context.Context, now time.Time) error {
	if a.session == nil {
		return nil
	}
	elapsed := wholeSeconds(now.Sub(a.session.Start))
	if elapsed <= 0 {
		a.log.Debug("discarded active delta", "domain", a.session.Domain, "seconds", elapsed, "reason", "non-positive")
		return nil
	}
	if err := a.sink.AddSiteTime(ctx, a.session.Domain, elapsed); err != nil {
		a.log.Error("flush site time", "domain", a.session.Domain, "seconds", elapsed, "error", err.Error())
		return err
	}
	a.log.Debug("flushed", "kind", "site", "domain", a.session.Domain, "seconds", elapsed)
	return nil
}
