package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/mafredri/cdp/rpcc"
	"github.com/tidwall/gjson"
)

// probeScript reports focus, visibility and every media element of the page.
// Elements get a stable id stored in a data attribute on first sight.
const probeScript = `(() => {
  const media = Array.from(document.querySelectorAll('video, audio'));
  return JSON.stringify({
    focused: document.hasFocus(),
    visible: document.visibilityState === 'visible',
    media: media.map((el, i) => {
      if (!el.dataset.sitetrackerId) {
        el.dataset.sitetrackerId = 'm' + Date.now().toString(36) + '-' + i;
      }
      return {id: el.dataset.sitetrackerId, paused: el.paused, ended: el.ended, currentTime: el.currentTime};
    })
  });
})()`

// Target is one browser page.
type Target struct {
	ID    string
	URL   string
	Title string
	WSURL string
}

// MediaElement is the probed state of one audio or video element.
type MediaElement struct {
	ID          string
	Paused      bool
	Ended       bool
	CurrentTime float64
}

// PageState is one probe result.
type PageState struct {
	Focused bool
	Visible bool
	Media   []MediaElement
}

// ParsePageState decodes the JSON the probe script returns.
func ParsePageState(raw string) (PageState, error) {
	if !gjson.Valid(raw) {
		return PageState{}, fmt.Errorf("probe returned invalid JSON")
	}
	res := gjson.Parse(raw)
	st := PageState{
		Focused: res.Get("focused").Bool(),
		Visible: res.Get("visible").Bool(),
	}
	res.Get("media").ForEach(func(_, el gjson.Result) bool {
		id := el.Get("id").String()
		if id == "" {
			return true
		}
		st.Media = append(st.Media, MediaElement{
			ID:          id,
			Paused:      el.Get("paused").Bool(),
			Ended:       el.Get("ended").Bool(),
			CurrentTime: el.Get("currentTime").Float(),
		})
		return true
	})
	return st, nil
}

// Lister enumerates open pages.
type Lister interface {
	Pages(ctx context.Context) ([]Target, error)
}

// Prober reads the state of one page.
type Prober interface {
	Probe(ctx context.Context, t Target) (PageState, error)
	Release(targetID string)
	Close() error
}

// DevTools lists page targets from a DevTools HTTP endpoint.
type DevTools struct {
	dt *devtool.DevTools
}

// NewDevTools returns a lister for the endpoint at url, e.g.
// http://127.0.0.1:9222.
func NewDevTools(url string) *DevTools {
	return &DevTools{dt: devtool.New(url)}
}

func (d *DevTools) Pages(ctx context.Context) ([]Target, error) {
	targets, err := d.dt.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	pages := make([]Target, 0, len(targets))
	for _, t := range targets {
		if t.Type != devtool.Page || t.WebSocketDebuggerURL == "" {
			continue
		}
		pages = append(pages, Target{
			ID:    string(t.ID),
			URL:   t.URL,
			Title: t.Title,
			WSURL: t.WebSocketDebuggerURL,
		})
	}
	return pages, nil
}

type session struct {
	conn   *rpcc.Conn
	client *cdp.Client
}

// CDPProber evaluates the probe script over one DevTools connection per page.
type CDPProber struct {
	mu       sync.Mutex
	sessions map[string]*session
}

// NewCDPProber returns a prober with no open connections.
func NewCDPProber() *CDPProber {
	return &CDPProber{sessions: make(map[string]*session)}
}

func (p *CDPProber) Probe(ctx context.Context, t Target) (PageState, error) {
	s, err := p.session(ctx, t)
	if err != nil {
		return PageState{}, err
	}

	args := runtime.NewEvaluateArgs(probeScript).SetReturnByValue(true)
	reply, err := s.client.Runtime.Evaluate(ctx, args)
	if err != nil {
		p.Release(t.ID)
		return PageState{}, fmt.Errorf("evaluate probe: %w", err)
	}
	if reply.ExceptionDetails != nil {
		return PageState{}, errors.New("probe threw: " + reply.ExceptionDetails.Text)
	}
	// The probe returns a JSON string; the remote value is that string
	// JSON-encoded once more.
	return ParsePageState(gjson.ParseBytes(reply.Result.Value).String())
}

func (p *CDPProber) session(ctx context.Context, t Target) (*session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.sessions[t.ID]; ok {
		return s, nil
	}
	conn, err := rpcc.DialContext(ctx, t.WSURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.ID, err)
	}
	s := &session{conn: conn, client: cdp.NewClient(conn)}
	p.sessions[t.ID] = s
	return s, nil
}

// Release closes the connection to a page that went away.
func (p *CDPProber) Release(targetID string) {
	p.mu.Lock()
	s, ok := p.sessions[targetID]
	delete(p.sessions, targetID)
	p.mu.Unlock()
	if ok {
		s.conn.Close()
	}
}

// Close closes every open connection.
func (p *CDPProber) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for id, s := range p.sessions {
		errs = append(errs, s.conn.Close())
		delete(p.sessions, id)
	}
	return errors.Join(errs...)
}
