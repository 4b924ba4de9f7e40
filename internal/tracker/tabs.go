package tracker

// Sentinel IDs the browser reports when there is no window or tab.
const (
	WindowNone = -1
	TabNone    = -1
)

// TabInfo mirrors what the browser reports about a tab.
type TabInfo struct {
	ID       int    `json:"tabId"`
	WindowID int    `json:"windowId"`
	URL      string `json:"url"`
	Active   bool   `json:"active"`
}

// TabResolver answers the lookups the active-domain timer needs.
type TabResolver interface {
	TabURL(tabID int) (string, error)
	ActiveTab(windowID int) (TabInfo, error)
}

// TabRegistry is an in-memory mirror of open tabs built from lifecycle
// events. It is not safe for concurrent use; the Engine guards it.
type TabRegistry struct {
	tabs map[int]TabInfo
}

// NewTabRegistry returns an empty registry.
func NewTabRegistry() *TabRegistry {
	return &TabRegistry{tabs: make(map[int]TabInfo)}
}

// Upsert records tab. An active tab deactivates every other tab in its window.
// TabNone is never recorded.
func (r *TabRegistry) Upsert(tab TabInfo) {
	if tab.ID == TabNone {
		return
	}
	if tab.Active {
		for id, t := range r.tabs {
			if id != tab.ID && t.WindowID == tab.WindowID && t.Active {
				t.Active = false
				r.tabs[id] = t
			}
		}
	}
	r.tabs[tab.ID] = tab
}

// Remove forgets a tab.
func (r *TabRegistry) Remove(tabID int) {
	delete(r.tabs, tabID)
}

// Get returns the tab with the given ID.
func (r *TabRegistry) Get(tabID int) (TabInfo, error) {
	t, ok := r.tabs[tabID]
	if !ok {
		return TabInfo{}, ErrTabNotFound
	}
	return t, nil
}

// TabURL returns the last known URL of a tab, or ErrTabNotFound when the tab
// is unknown or has no URL yet.
func (r *TabRegistry) TabURL(tabID int) (string, error) {
	t, ok := r.tabs[tabID]
	if !ok || t.URL == "" {
		return "", ErrTabNotFound
	}
	return t.URL, nil
}

// ActiveTab returns the active tab of a window.
func (r *TabRegistry) ActiveTab(windowID int) (TabInfo, error) {
	for _, t := range r.tabs {
		if t.WindowID == windowID && t.Active {
			return t, nil
		}
	}
	return TabInfo{}, ErrTabNotFound
}

// Len reports how many tabs are known.
func (r *TabRegistry) Len() int {
	return len(r.tabs)
}
