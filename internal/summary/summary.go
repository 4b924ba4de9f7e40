// Package summary builds the popup view of the day's aggregates.
package summary

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/runnerr0/sitetracker/internal/storage"
)

// Messages shown in place of an empty list.
const (
	NoSitesMessage = "No sites tracked yet."
	NoMediaMessage = "No media playback tracked yet."
)

// Row is one domain line of the view.
type Row struct {
	Domain  string `json:"domain"`
	Seconds int64  `json:"seconds"`
	Display string `json:"display"`
	Link    string `json:"link"`
}

// Summary is the popup data: totals plus per-domain rows, largest first.
type Summary struct {
	TotalSeconds      int64  `json:"totalSeconds"`
	TotalDisplay      string `json:"totalDisplay"`
	TotalMediaSeconds int64  `json:"totalMediaSeconds"`
	TotalMediaDisplay string `json:"totalMediaDisplay"`
	UniqueSites       int    `json:"uniqueSites"`
	Sites             []Row  `json:"sites"`
	Media             []Row  `json:"media"`
}

// Build summarizes data. Totals include every domain; the site list leaves
// out domains matching a hidden pattern. The media list is not filtered.
func Build(data *storage.TrackingData, hidden []string) *Summary {
	if data == nil {
		data = storage.EmptyTrackingData()
	}
	s := &Summary{
		UniqueSites: len(data.UniqueSites),
		Sites:       rows(data.SiteTimes, hidden),
		Media:       rows(data.MediaTimes, nil),
	}
	for _, v := range data.SiteTimes {
		s.TotalSeconds += v
	}
	for _, v := range data.MediaTimes {
		s.TotalMediaSeconds += v
	}
	s.TotalDisplay = FormatSeconds(s.TotalSeconds)
	s.TotalMediaDisplay = FormatSeconds(s.TotalMediaSeconds)
	return s
}

func rows(times map[string]int64, hidden []string) []Row {
	out := make([]Row, 0, len(times))
	for domain, secs := range times {
		if domain == "" || Hidden(domain, hidden) {
			continue
		}
		out = append(out, Row{
			Domain:  domain,
			Seconds: secs,
			Display: FormatSeconds(secs),
			Link:    "https://" + domain,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Seconds != out[j].Seconds {
			return out[i].Seconds > out[j].Seconds
		}
		return out[i].Domain < out[j].Domain
	})
	return out
}

// Hidden reports whether domain matches any pattern. A pattern ending in "*"
// is a prefix; anything else matches as a substring.
func Hidden(domain string, patterns []string) bool {
	for _, p := range patterns {
		if prefix, ok := strings.CutSuffix(p, "*"); ok {
			if strings.HasPrefix(domain, prefix) {
				return true
			}
			continue
		}
		if p != "" && strings.Contains(domain, p) {
			return true
		}
	}
	return false
}

// FormatSeconds renders whole seconds below a minute, else minutes to one
// decimal place.
func FormatSeconds(secs int64) string {
	if secs < 60 {
		return fmt.Sprintf("%d sec", secs)
	}
	return fmt.Sprintf("%.1f min", float64(secs)/60)
}

// Render writes the summary as plain text.
func Render(w io.Writer, s *Summary) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Active time:   %s\n", s.TotalDisplay)
	fmt.Fprintf(&b, "Media time:    %s\n", s.TotalMediaDisplay)
	fmt.Fprintf(&b, "Unique sites:  %d\n", s.UniqueSites)

	b.WriteString("\nSites:\n")
	writeRows(&b, s.Sites, NoSitesMessage)
	b.WriteString("\nMedia:\n")
	writeRows(&b, s.Media, NoMediaMessage)

	_, err := io.WriteString(w, b.String())
	return err
}

func writeRows(b *strings.Builder, rows []Row, empty string) {
	if len(rows) == 0 {
		fmt.Fprintf(b, "  %s\n", empty)
		return
	}
	for _, r := range rows {
		fmt.Fprintf(b, "  %-30s %s\n", r.Domain, r.Display)
	}
}
