package html

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ballardtrucks/roundup/internal/errclass"
	"github.com/ballardtrucks/roundup/internal/schedule"
)

func htmlSource(url string, config map[string]string) schedule.Source {
	return schedule.Source{Key: "stoup", Name: "Stoup Ballard", URL: url, Adapter: "html", Config: config}
}

func servePage(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

type fakeResolver struct {
	name string
}

func (f fakeResolver) ResolveName(context.Context, string) (string, bool) {
	return f.name, f.name != ""
}

func newTestAdapter(resolver *fakeResolver) *Adapter {
	var a *Adapter
	if resolver != nil {
		a = New(Config{}, nil, *resolver, nil)
	} else {
		a = New(Config{}, nil, nil, nil)
	}
	a.now = func() time.Time { return time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC) }
	return a
}

func TestExtractMatchesPattern(t *testing.T) {
	srv := servePage(t, `<html><body>
		<div class="schedule">
			Aug 25: Paseo 4:00 - 8:00
			Aug 26: Marination 5:00 - 9:00
		</div>
		<div class="footer">Aug 27: Not In Scope 1:00 - 2:00</div>
	</body></html>`)

	a := newTestAdapter(nil)
	events, err := a.Extract(context.Background(), htmlSource(srv.URL, map[string]string{
		"selector": ".schedule",
		"pattern":  `(?P<date>\w+ \d{1,2}): (?P<vendor>[A-Za-z ]+?) (?P<time>\d{1,2}:\d{2} - \d{1,2}:\d{2})`,
	}))
	require.NoError(t, err)
	require.Len(t, events, 2, "matches outside the selector scope are excluded")

	require.Equal(t, "Paseo", events[0].Vendor)
	require.Equal(t, time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC), events[0].Date)
	require.NotNil(t, events[0].Start)
	require.Equal(t, 16, events[0].Start.Hour())
	require.Equal(t, 20, events[0].End.Hour())
	require.Equal(t, "Marination", events[1].Vendor)
}

func TestExtractDatelessMatchUsesToday(t *testing.T) {
	srv := servePage(t, `<html><body>Today: Paseo</body></html>`)

	a := newTestAdapter(nil)
	events, err := a.Extract(context.Background(), htmlSource(srv.URL, map[string]string{
		"pattern": `Today: (?P<vendor>\w+)`,
	}))
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC), events[0].Date)
}

func TestExtractUnparsedTimeKeepsEvent(t *testing.T) {
	srv := servePage(t, `<html><body>Paseo from dusk - dawn</body></html>`)

	a := newTestAdapter(nil)
	events, err := a.Extract(context.Background(), htmlSource(srv.URL, map[string]string{
		"pattern": `(?P<vendor>\w+) from (?P<time>[a-z]+ - [a-z]+)`,
	}))
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Nil(t, events[0].Start, "an unusable time range drops the times, not the event")
	require.True(t, events[0].Valid())
}

func TestExtractMissingPatternIsConfigError(t *testing.T) {
	a := newTestAdapter(nil)
	_, err := a.Extract(context.Background(), htmlSource("http://unused.test", nil))
	require.Error(t, err)

	var cfgErr *errclass.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestExtractPatternWithoutVendorGroupIsConfigError(t *testing.T) {
	a := newTestAdapter(nil)
	_, err := a.Extract(context.Background(), htmlSource("http://unused.test", map[string]string{
		"pattern": `\d{1,2}:\d{2}`,
	}))
	require.Error(t, err)

	var cfgErr *errclass.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestExtractSelectorMatchingNothingIsExtractError(t *testing.T) {
	srv := servePage(t, `<html><body><p>hi</p></body></html>`)

	a := newTestAdapter(nil)
	_, err := a.Extract(context.Background(), htmlSource(srv.URL, map[string]string{
		"selector": ".does-not-exist",
		"pattern":  `(?P<vendor>\w+)`,
	}))
	require.Error(t, err)

	var extract *errclass.ExtractError
	require.ErrorAs(t, err, &extract)
}

func TestExtractHTTPStatusFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	a := newTestAdapter(nil)
	_, err := a.Extract(context.Background(), htmlSource(srv.URL, map[string]string{
		"pattern": `(?P<vendor>\w+)`,
	}))
	require.Error(t, err)

	var httpErr *errclass.HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	require.Equal(t, errclass.NonRetryable, errclass.Classify(err))
}

func TestExtractImageFallbackResolvesVendor(t *testing.T) {
	srv := servePage(t, `<html><body>
		<div class="schedule">
			Food truck tonight!
			<img class="poster" src="http://img.test/schedule.png"/>
		</div>
	</body></html>`)

	a := newTestAdapter(&fakeResolver{name: "Paseo"})
	events, err := a.Extract(context.Background(), htmlSource(srv.URL, map[string]string{
		"selector":       ".schedule",
		"pattern":        `Food truck (?P<vendor>)tonight`,
		"image_selector": "img.poster",
	}))
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "Paseo", events[0].Vendor)
	require.True(t, events[0].AIGenerated)
}

func TestExtractImageFallbackFailureLeavesSentinel(t *testing.T) {
	srv := servePage(t, `<html><body>
		<div class="schedule">
			Food truck tonight!
			<img class="poster" src="http://img.test/schedule.png"/>
		</div>
	</body></html>`)

	a := newTestAdapter(&fakeResolver{})
	events, err := a.Extract(context.Background(), htmlSource(srv.URL, map[string]string{
		"selector":       ".schedule",
		"pattern":        `Food truck (?P<vendor>)tonight`,
		"image_selector": "img.poster",
	}))
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, schedule.UnknownVendor, events[0].Vendor)
}
