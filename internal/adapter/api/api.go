// Package api implements the schedule-API adapter for sources that expose
// their bookings through a JSON events endpoint (seattlefoodtruck.com
// shape): a paged query by location and date range, returning events with
// booked trucks.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ballardtrucks/roundup/internal/enrich"
	"github.com/ballardtrucks/roundup/internal/errclass"
	"github.com/ballardtrucks/roundup/internal/schedule"
)

// Source config keys understood by this adapter.
const (
	// cfgLocationID selects the location whose bookings are fetched.
	cfgLocationID = "location_id"
	// cfgDaysAhead widens or narrows the requested date range.
	cfgDaysAhead = "days_ahead"
)

const defaultDaysAhead = 7

// Config controls HTTP behavior for all sources using this adapter.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Adapter fetches bookings from a JSON schedule API.
type Adapter struct {
	cfg      Config
	client   *http.Client
	resolver enrich.NameResolver
	now      func() time.Time
	logger   *zap.Logger
}

// New builds the adapter. resolver may be nil.
func New(cfg Config, resolver enrich.NameResolver, logger *zap.Logger) *Adapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if resolver == nil {
		resolver = enrich.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:    100,
				IdleConnTimeout: 90 * time.Second,
			},
		},
		resolver: resolver,
		now:      time.Now,
		logger:   logger,
	}
}

type eventsResponse struct {
	Events []apiEvent `json:"events"`
}

type apiEvent struct {
	StartTime string       `json:"start_time"`
	EndTime   string       `json:"end_time"`
	Bookings  []apiBooking `json:"bookings"`
}

type apiBooking struct {
	Status string    `json:"status"`
	Truck  *apiTruck `json:"truck"`
}

type apiTruck struct {
	Name          string `json:"name"`
	FeaturedPhoto string `json:"featured_photo"`
}

// Extract implements adapter.Adapter.
func (a *Adapter) Extract(ctx context.Context, src schedule.Source) ([]schedule.Event, error) {
	if src.Config[cfgLocationID] == "" {
		return nil, &errclass.ConfigError{Reason: fmt.Sprintf("source %s: location_id is required", src.Key)}
	}

	data, err := a.fetch(ctx, src)
	if err != nil {
		return nil, err
	}

	var parsed eventsResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, &errclass.ExtractError{Reason: fmt.Sprintf("invalid JSON from API: %v", err)}
	}
	if parsed.Events == nil {
		return nil, &errclass.ExtractError{Reason: "API response has no events field"}
	}

	events := a.mapEvents(ctx, src, parsed.Events)
	a.logger.Debug("api parse complete", zap.String("source", src.Key), zap.Int("events", len(events)))
	return events, nil
}

func (a *Adapter) fetch(ctx context.Context, src schedule.Source) ([]byte, error) {
	days := defaultDaysAhead
	if raw := src.Config[cfgDaysAhead]; raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			days = n
		}
	}
	now := a.now()

	query := url.Values{}
	query.Set("page", "1")
	query.Set("page_size", "300")
	query.Set("start_date", now.Format("2006-01-02"))
	query.Set("end_date", now.AddDate(0, 0, days).Format("2006-01-02"))
	query.Set("for_locations", src.Config[cfgLocationID])
	query.Set("with_active_trucks", "true")
	query.Set("include_bookings", "true")

	target := src.URL + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build API request: %w", err)
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
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read API response: %w", err)
	}
	return body, nil
}

func (a *Adapter) mapEvents(ctx context.Context, src schedule.Source, raw []apiEvent) []schedule.Event {
	var events []schedule.Event
	for _, e := range raw {
		start, err := time.Parse(time.RFC3339, e.StartTime)
		if err != nil {
			continue
		}
		start = start.In(a.now().Location())
		date := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())

		var end *time.Time
		if parsed, err := time.Parse(time.RFC3339, e.EndTime); err == nil {
			local := parsed.In(start.Location())
			end = &local
		}

		for _, b := range e.Bookings {
			// Waitlisted bookings are not commitments; only confirmed
			// trucks appear on the published schedule.
			if b.Status != "approved" && b.Status != "confirmed" {
				continue
			}
			evt := schedule.Event{
				SourceKey:  src.Key,
				SourceName: src.Name,
				Vendor:     schedule.UnknownVendor,
				Date:       date,
				Start:      &start,
				End:        end,
			}
			if b.Truck != nil && b.Truck.Name != "" {
				evt.Vendor = b.Truck.Name
			} else if b.Truck != nil && b.Truck.FeaturedPhoto != "" {
				if name, ok := a.resolver.ResolveName(ctx, b.Truck.FeaturedPhoto); ok {
					evt.Vendor = name
					evt.AIGenerated = true
				}
			}
			events = append(events, evt)
		}
	}
	return events
}
