// Package html implements the text-search HTML adapter: it fetches a
// source page, scopes it with a CSS selector, and extracts events with a
// named-group regexp supplied by the source's configuration.
package html

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/ballardtrucks/roundup/internal/adapter/headless"
	"github.com/ballardtrucks/roundup/internal/enrich"
	"github.com/ballardtrucks/roundup/internal/errclass"
	"github.com/ballardtrucks/roundup/internal/schedule"
)

// Source config keys understood by this adapter.
const (
	// cfgPattern is a regexp with a required "vendor" group and optional
	// "time" and "date" groups.
	cfgPattern = "pattern"
	// cfgSelector scopes the text search to matching elements.
	cfgSelector = "selector"
	// cfgRender set to "headless" routes the fetch through the renderer.
	cfgRender = "render"
	// cfgImageSelector locates a schedule image whose logo names the
	// vendor when the text itself does not.
	cfgImageSelector = "image_selector"
)

// Config controls fetch behavior for all sources using this adapter.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Adapter extracts events from server-rendered (or headless-rendered)
// schedule pages.
type Adapter struct {
	cfg           Config
	baseCollector *colly.Collector
	renderer      headless.Renderer
	resolver      enrich.NameResolver
	now           func() time.Time
	logger        *zap.Logger
}

// New builds the adapter. renderer and resolver may be nil; sources
// requiring them then fail with a configuration cause.
func New(cfg Config, renderer headless.Renderer, resolver enrich.NameResolver, logger *zap.Logger) *Adapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if renderer == nil {
		renderer = headless.NewNoop()
	}
	if resolver == nil {
		resolver = enrich.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	// Synchronous by default; colly v2.1.0's Async option ignores its
	// argument and would force async mode, so it must not be passed here.
	c := colly.NewCollector()
	c.WithTransport(newHTTPTransport())

	return &Adapter{
		cfg:           cfg,
		baseCollector: c,
		renderer:      renderer,
		resolver:      resolver,
		now:           time.Now,
		logger:        logger,
	}
}

// Extract implements adapter.Adapter.
func (a *Adapter) Extract(ctx context.Context, src schedule.Source) ([]schedule.Event, error) {
	raw := src.Config[cfgPattern]
	if raw == "" {
		return nil, &errclass.ConfigError{Reason: fmt.Sprintf("source %s: pattern is required", src.Key)}
	}
	pattern, err := regexp.Compile(raw)
	if err != nil {
		return nil, &errclass.ConfigError{Reason: fmt.Sprintf("source %s: invalid pattern: %v", src.Key, err)}
	}
	if !hasGroup(pattern, "vendor") {
		return nil, &errclass.ConfigError{Reason: fmt.Sprintf("source %s: pattern needs a vendor group", src.Key)}
	}

	body, err := a.fetch(ctx, src)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, &errclass.ExtractError{Reason: fmt.Sprintf("parse HTML: %v", err)}
	}

	selector := src.Config[cfgSelector]
	if selector == "" {
		selector = "body"
	}
	scope := doc.Find(selector)
	if scope.Length() == 0 {
		return nil, &errclass.ExtractError{Reason: fmt.Sprintf("selector %q matched nothing", selector)}
	}

	events := a.matchEvents(ctx, src, pattern, scope)
	a.logger.Debug("text search complete",
		zap.String("source", src.Key),
		zap.Int("events", len(events)),
	)
	return events, nil
}

func (a *Adapter) matchEvents(
	ctx context.Context,
	src schedule.Source,
	pattern *regexp.Regexp,
	scope *goquery.Selection,
) []schedule.Event {
	text := scope.Text()
	today := a.today()
	var events []schedule.Event
	for _, match := range pattern.FindAllStringSubmatch(text, -1) {
		groups := namedGroups(pattern, match)
		date := today
		if raw := groups["date"]; raw != "" {
			parsed, err := schedule.ParseDate(raw, today)
			if err != nil {
				a.logger.Debug("unparseable date in match", zap.String("source", src.Key), zap.String("date", raw))
				continue
			}
			date = parsed
		}

		evt := schedule.Event{
			SourceKey:  src.Key,
			SourceName: src.Name,
			Vendor:     strings.TrimSpace(groups["vendor"]),
			Date:       date,
		}
		if raw := groups["time"]; raw != "" {
			if start, end, err := schedule.ParseTimeRange(raw, date); err == nil {
				evt.Start, evt.End = &start, &end
			}
		}
		if evt.Vendor == "" {
			evt.Vendor = schedule.UnknownVendor
			a.resolveVendor(ctx, src, scope, &evt)
		}
		events = append(events, evt)
	}
	return events
}

// resolveVendor falls back to image analysis when the page text names no
// vendor. Failure leaves the unknown sentinel in place; the validator
// drops the event later.
func (a *Adapter) resolveVendor(ctx context.Context, src schedule.Source, scope *goquery.Selection, evt *schedule.Event) {
	sel := src.Config[cfgImageSelector]
	if sel == "" {
		return
	}
	img, ok := scope.Find(sel).First().Attr("src")
	if !ok || img == "" {
		return
	}
	if name, resolved := a.resolver.ResolveName(ctx, img); resolved {
		evt.Vendor = name
		evt.AIGenerated = true
	}
}

func (a *Adapter) fetch(ctx context.Context, src schedule.Source) (string, error) {
	if src.Config[cfgRender] == "headless" {
		return a.renderer.Render(ctx, src.URL)
	}
	return a.fetchStatic(ctx, src.URL)
}

// fetchStatic performs one GET through colly, surfacing non-2xx responses
// as classifiable HTTP errors.
func (a *Adapter) fetchStatic(ctx context.Context, url string) (string, error) {
	collector := a.baseCollector.Clone()
	if a.cfg.UserAgent != "" {
		collector.UserAgent = a.cfg.UserAgent
	}
	collector.SetRequestTimeout(a.cfg.Timeout)

	var (
		body     []byte
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode >= 400 {
			fetchErr = &errclass.HTTPError{StatusCode: r.StatusCode, URL: url}
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return "", fetchErr
		}
		if err != nil {
			return "", fmt.Errorf("visit %s: %w", url, err)
		}
	}

	if len(body) == 0 {
		return "", &errclass.ExtractError{Reason: "empty response body"}
	}
	return string(body), nil
}

func (a *Adapter) today() time.Time {
	now := a.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

func hasGroup(re *regexp.Regexp, name string) bool {
	for _, n := range re.SubexpNames() {
		if n == name {
			return true
		}
	}
	return false
}

func namedGroups(re *regexp.Regexp, match []string) map[string]string {
	groups := make(map[string]string)
	for i, name := range re.SubexpNames() {
		if name != "" && i < len(match) {
			groups[name] = match[i]
		}
	}
	return groups
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
