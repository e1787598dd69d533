// Package web shapes a run's result into the JSON payload consumed by the
// static schedule page, and can write it to disk alongside a small local
// preview.
package web

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ballardtrucks/roundup/internal/schedule"
	"github.com/ballardtrucks/roundup/internal/scrape"
)

// Payload is the document served to the schedule page.
type Payload struct {
	Events      []Entry   `json:"events"`
	Failures    []Source  `json:"failures,omitempty"`
	Status      string    `json:"status"`
	TotalEvents int       `json:"total_events"`
	Updated     time.Time `json:"updated"`
}

// Entry is one event in page-friendly form: dates and times pre-formatted
// so the page does no timezone math.
type Entry struct {
	Vendor      string `json:"vendor"`
	Location    string `json:"location"`
	Date        string `json:"date"`
	Start       string `json:"start,omitempty"`
	End         string `json:"end,omitempty"`
	Description string `json:"description,omitempty"`
	AIGenerated bool   `json:"ai_generated,omitempty"`
}

// Source names a failed source on the page's status banner.
type Source struct {
	Key     string `json:"key"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Build converts a run result into the page payload. updated should be the
// wall time of the run in the display timezone.
func Build(result scrape.Result, updated time.Time) Payload {
	p := Payload{
		Events:      make([]Entry, 0, len(result.Events)),
		Status:      result.Status.String(),
		TotalEvents: len(result.Events),
		Updated:     updated,
	}
	for _, e := range result.Events {
		p.Events = append(p.Events, entry(e))
	}
	for _, f := range result.Failures {
		p.Failures = append(p.Failures, Source{Key: f.SourceKey, Name: f.SourceName, Message: f.Message})
	}
	return p
}

func entry(e schedule.Event) Entry {
	out := Entry{
		Vendor:      e.Vendor,
		Location:    e.SourceName,
		Date:        e.Date.Format("2006-01-02"),
		Description: e.Description,
		AIGenerated: e.AIGenerated,
	}
	if e.Start != nil {
		out.Start = e.Start.Format("3:04 PM")
	}
	if e.End != nil {
		out.End = e.End.Format("3:04 PM")
	}
	return out
}

// Write serializes the payload to <dir>/data/events.json, creating the
// directory tree as needed.
func Write(dir string, p Payload) (string, error) {
	dataDir := filepath.Join(dir, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create payload dir: %w", err)
	}
	path := filepath.Join(dataDir, "events.json")
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write payload: %w", err)
	}
	return path, nil
}
