// Package schedule defines the core types for aggregated vendor schedules:
// the sources records come from, the events extracted from them, and the
// validity and ordering rules applied before a run's result is returned.
package schedule

import (
	"fmt"
	"sort"
	"time"
)

// UnknownVendor is the sentinel used when extraction could not resolve a
// vendor name. Events carrying it fail validation and are dropped.
const UnknownVendor = "TBD"

// Source is one independently-fetchable origin of events. It is immutable
// once loaded from configuration.
type Source struct {
	// Key uniquely identifies the source across a run.
	Key string
	// Name is the human-facing display name used in reports.
	Name string
	// URL is the fetch target handed to the source's adapter.
	URL string
	// Adapter selects which extraction strategy handles this source.
	Adapter string
	// Config carries adapter-specific settings (patterns, selectors, ids).
	Config map[string]string
}

// Event is one extracted schedule entry.
type Event struct {
	SourceKey   string     `json:"source_key"`
	SourceName  string     `json:"source_name"`
	Vendor      string     `json:"vendor"`
	Date        time.Time  `json:"date"`
	Start       *time.Time `json:"start,omitempty"`
	End         *time.Time `json:"end,omitempty"`
	Description string     `json:"description,omitempty"`
	// AIGenerated marks vendor names recovered by image analysis rather
	// than direct extraction.
	AIGenerated bool `json:"ai_generated,omitempty"`
}

// Valid reports whether the event satisfies the record invariant: a vendor
// name that is neither empty nor the unknown sentinel, and a date.
func (e Event) Valid() bool {
	if e.Vendor == "" || e.Vendor == UnknownVendor {
		return false
	}
	return !e.Date.IsZero()
}

// EffectiveStart is the instant used for intra-day ordering: the start time
// when present, otherwise the date itself.
func (e Event) EffectiveStart() time.Time {
	if e.Start != nil {
		return *e.Start
	}
	return e.Date
}

func (e Event) String() string {
	s := fmt.Sprintf("%s: %s @ %s", e.Date.Format("2006-01-02"), e.Vendor, e.SourceName)
	if e.Start != nil {
		s += " " + e.Start.Format("15:04")
		if e.End != nil {
			s += "-" + e.End.Format("15:04")
		}
	}
	return s
}

// Filter returns only the valid events, preserving input order. Invalid
// events are an expected occurrence (an unresolved vendor name, a row
// without a date) and are dropped silently.
func Filter(events []Event) []Event {
	valid := make([]Event, 0, len(events))
	for _, e := range events {
		if e.Valid() {
			valid = append(valid, e)
		}
	}
	return valid
}

// Less orders events by date, then effective start time, then source key,
// then vendor. The final tiebreaks make the merged ordering deterministic
// across runs regardless of source completion order.
func Less(a, b Event) bool {
	if !a.Date.Equal(b.Date) {
		return a.Date.Before(b.Date)
	}
	as, bs := a.EffectiveStart(), b.EffectiveStart()
	if !as.Equal(bs) {
		return as.Before(bs)
	}
	if a.SourceKey != b.SourceKey {
		return a.SourceKey < b.SourceKey
	}
	return a.Vendor < b.Vendor
}

// Sort sorts events in place per Less using a stable sort.
func Sort(events []Event) {
	sort.SliceStable(events, func(i, j int) bool { return Less(events[i], events[j]) })
}

// Window keeps events whose date falls within [anchor's day, anchor+days],
// mirroring the "next seven days" view of the published schedule. A
// non-positive days disables filtering.
func Window(events []Event, anchor time.Time, days int) []Event {
	if days <= 0 {
		return events
	}
	from := startOfDay(anchor)
	to := from.AddDate(0, 0, days)
	kept := make([]Event, 0, len(events))
	for _, e := range events {
		day := startOfDay(e.Date)
		if !day.Before(from) && !day.After(to) {
			kept = append(kept, e)
		}
	}
	return kept
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
