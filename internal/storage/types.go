package storage

import "time"

// Keys of the three persisted aggregates.
const (
	KeySiteTimes   = "siteTimes"
	KeyUniqueSites = "uniqueSites"
	KeyMediaTimes  = "mediaTimes"
)

// AggregateKeys lists the keys a backup mirrors.
var AggregateKeys = []string{KeySiteTimes, KeyUniqueSites, KeyMediaTimes}

// KeyInstallID identifies this database across backups and restores.
const KeyInstallID = "meta:installId"

// TrackingData is the full aggregate view returned by GetTrackingData.
type TrackingData struct {
	SiteTimes   map[string]int64 `json:"siteTimes"`
	UniqueSites []string         `json:"uniqueSites"`
	MediaTimes  map[string]int64 `json:"mediaTimes"`
}

// EmptyTrackingData returns aggregates with every collection empty but non-nil.
func EmptyTrackingData() *TrackingData {
	return &TrackingData{
		SiteTimes:   map[string]int64{},
		UniqueSites: []string{},
		MediaTimes:  map[string]int64{},
	}
}

// normalize replaces nil collections so JSON encodes {} and [] instead of null.
func (d *TrackingData) normalize() {
	if d.SiteTimes == nil {
		d.SiteTimes = map[string]int64{}
	}
	if d.UniqueSites == nil {
		d.UniqueSites = []string{}
	}
	if d.MediaTimes == nil {
		d.MediaTimes = map[string]int64{}
	}
}

// AuditEntry records a store-level maintenance action such as a reset.
type AuditEntry struct {
	ID     int64
	Action string // "reset", "restore", "set_tracking_data"
	Detail string
	Time   time.Time
}

// Stats holds aggregate statistics about the tracking database.
type Stats struct {
	Sites             int
	MediaSites        int
	TotalSiteSeconds  int64
	TotalMediaSeconds int64
	LastReset         time.Time // zero when no reset has been recorded
	SchemaVersion     int
}
