// Package sheet implements the published-CSV adapter for sources that
// maintain their schedule in a spreadsheet exported as CSV (Google Sheets
// publish-to-web links).
package sheet

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ballardtrucks/roundup/internal/errclass"
	"github.com/ballardtrucks/roundup/internal/schedule"
)

// Config controls HTTP behavior for all sources using this adapter.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Adapter reads schedule rows from a CSV export. The sheet must carry a
// header row naming at least "date" and "vendor" columns; "start", "end"
// and "description" are optional.
type Adapter struct {
	cfg    Config
	client *http.Client
	now    func() time.Time
	logger *zap.Logger
}

// New builds the adapter.
func New(cfg Config, logger *zap.Logger) *Adapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		now:    time.Now,
		logger: logger,
	}
}

// Extract implements adapter.Adapter. Malformed rows become invalid
// events for the validator to drop; only a missing or unusable header is
// a structural failure.
func (a *Adapter) Extract(ctx context.Context, src schedule.Source) ([]schedule.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build sheet request: %w", err)
	}
	if a.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", a.cfg.UserAgent)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", src.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &errclass.HTTPError{StatusCode: resp.StatusCode, URL: src.URL}
	}

	reader := csv.NewReader(resp.Body)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return nil, &errclass.ExtractError{Reason: fmt.Sprintf("sheet has no header row: %v", err)}
	}
	cols := columnIndex(header)
	if _, ok := cols["date"]; !ok {
		return nil, &errclass.ExtractError{Reason: "sheet header has no date column"}
	}
	if _, ok := cols["vendor"]; !ok {
		return nil, &errclass.ExtractError{Reason: "sheet header has no vendor column"}
	}

	anchor := a.now()
	var events []schedule.Event
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			a.logger.Debug("skipping malformed sheet row", zap.String("source", src.Key), zap.Error(err))
			continue
		}
		events = append(events, a.rowEvent(src, cols, row, anchor))
	}
	a.logger.Debug("sheet parse complete", zap.String("source", src.Key), zap.Int("events", len(events)))
	return events, nil
}

func (a *Adapter) rowEvent(src schedule.Source, cols map[string]int, row []string, anchor time.Time) schedule.Event {
	evt := schedule.Event{
		SourceKey:   src.Key,
		SourceName:  src.Name,
		Vendor:      strings.TrimSpace(cell(row, cols, "vendor")),
		Description: strings.TrimSpace(cell(row, cols, "description")),
	}
	if evt.Vendor == "" {
		evt.Vendor = schedule.UnknownVendor
	}

	date, err := schedule.ParseDate(cell(row, cols, "date"), anchor)
	if err != nil {
		// No date means the row fails validation downstream; keep the
		// event so the drop is visible to the validator, not silent here.
		return evt
	}
	evt.Date = date

	if raw := cell(row, cols, "start"); raw != "" {
		if start, err := schedule.ParseClock(raw, date); err == nil {
			evt.Start = &start
		}
	}
	if raw := cell(row, cols, "end"); raw != "" {
		if end, err := schedule.ParseClock(raw, date); err == nil {
			evt.End = &end
		}
	}
	return evt
}

func columnIndex(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return cols
}

func cell(row []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}
