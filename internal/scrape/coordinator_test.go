package scrape

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ballardtrucks/roundup/internal/adapter"
	"github.com/ballardtrucks/roundup/internal/errclass"
	"github.com/ballardtrucks/roundup/internal/progress"
	"github.com/ballardtrucks/roundup/internal/retry"
	"github.com/ballardtrucks/roundup/internal/schedule"
)

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, BackoffBase: 2, BackoffUnit: time.Millisecond}
}

func source(key string) schedule.Source {
	return schedule.Source{Key: key, Name: key, URL: "http://" + key + ".test", Adapter: "test"}
}

func eventFor(src schedule.Source, vendor string, d time.Time) schedule.Event {
	return schedule.Event{SourceKey: src.Key, SourceName: src.Name, Vendor: vendor, Date: d}
}

// recordingSink collects progress events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []progress.Event
}

func (s *recordingSink) Observe(evt progress.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
}

func (s *recordingSink) stages() []progress.Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]progress.Stage, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Stage)
	}
	return out
}

func newTestCoordinator(t *testing.T, fn adapter.Func, sink progress.Sink) *Coordinator {
	t.Helper()
	reg := adapter.NewRegistry()
	reg.Register("test", fn)
	var emitter progress.Emitter
	if sink != nil {
		emitter = progress.NewFanout(sink)
	}
	return New(reg, Config{Retry: fastRetry()}, emitter, nil)
}

func TestRunOneOutcomePerSource(t *testing.T) {
	day := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	c := newTestCoordinator(t, func(_ context.Context, src schedule.Source) ([]schedule.Event, error) {
		if src.Key == "bad" {
			return nil, errors.New("connection refused")
		}
		return []schedule.Event{eventFor(src, "Vendor "+src.Key, day)}, nil
	}, nil)

	sources := []schedule.Source{source("a"), source("bad"), source("b")}
	result := c.Run(context.Background(), sources)

	require.Len(t, result.Events, 2)
	require.Len(t, result.Failures, 1)
	require.Equal(t, "bad", result.Failures[0].SourceKey)
	require.Equal(t, StatusPartial, result.Status)
	require.Equal(t, 2, result.Status.ExitCode())
}

func TestRunSourceIsolation(t *testing.T) {
	day := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	c := newTestCoordinator(t, func(_ context.Context, src schedule.Source) ([]schedule.Event, error) {
		if src.Key == "a" {
			return nil, &errclass.ExtractError{Reason: "layout changed"}
		}
		return []schedule.Event{
			eventFor(src, "First", day),
			eventFor(src, "Second", day),
		}, nil
	}, nil)

	result := c.Run(context.Background(), []schedule.Source{source("a"), source("b")})

	require.Len(t, result.Events, 2, "failure of one source must not reduce another's records")
	require.Equal(t, StatusPartial, result.Status)
	require.Len(t, result.Failures, 1)
	require.Equal(t, errclass.NonRetryable, result.Failures[0].Kind)
}

func TestRunAllSourcesSucceed(t *testing.T) {
	day := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	c := newTestCoordinator(t, func(_ context.Context, src schedule.Source) ([]schedule.Event, error) {
		return []schedule.Event{eventFor(src, "V", day)}, nil
	}, nil)

	result := c.Run(context.Background(), []schedule.Source{source("a"), source("b"), source("c")})
	require.Equal(t, StatusFull, result.Status)
	require.Equal(t, 0, result.Status.ExitCode())
	require.Empty(t, result.Failures)
	require.Len(t, result.Events, 3)
}

func TestRunAllSourcesFail(t *testing.T) {
	c := newTestCoordinator(t, func(context.Context, schedule.Source) ([]schedule.Event, error) {
		return nil, errors.New("down")
	}, nil)

	result := c.Run(context.Background(), []schedule.Source{source("a"), source("b")})
	require.Equal(t, StatusTotal, result.Status)
	require.Equal(t, 1, result.Status.ExitCode())
	require.Empty(t, result.Events)
	require.Len(t, result.Failures, 2)
}

func TestRunZeroSources(t *testing.T) {
	c := newTestCoordinator(t, func(context.Context, schedule.Source) ([]schedule.Event, error) {
		t.Fatal("adapter must not be invoked")
		return nil, nil
	}, nil)

	result := c.Run(context.Background(), nil)
	require.Equal(t, StatusFull, result.Status)
	require.Equal(t, 0, result.Status.ExitCode())
	require.Empty(t, result.Events)
	require.Empty(t, result.Failures)
}

func TestRunRetryBudget(t *testing.T) {
	var calls atomic.Int32
	day := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	c := newTestCoordinator(t, func(_ context.Context, src schedule.Source) ([]schedule.Event, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("flaky")
		}
		return []schedule.Event{eventFor(src, "Recovered", day)}, nil
	}, nil)

	result := c.Run(context.Background(), []schedule.Source{source("a")})
	require.Equal(t, StatusFull, result.Status)
	require.EqualValues(t, 3, calls.Load())
	require.Len(t, result.Events, 1)
}

func TestRunNonRetryableSingleInvocation(t *testing.T) {
	var calls atomic.Int32
	c := newTestCoordinator(t, func(context.Context, schedule.Source) ([]schedule.Event, error) {
		calls.Add(1)
		return nil, &errclass.HTTPError{StatusCode: 404, URL: "http://a.test"}
	}, nil)

	result := c.Run(context.Background(), []schedule.Source{source("a")})
	require.EqualValues(t, 1, calls.Load(), "a 404 must consume exactly one attempt")
	require.Equal(t, StatusTotal, result.Status)
	require.Equal(t, errclass.NonRetryable, result.Failures[0].Kind)
}

func TestRunUnknownAdapterIsFatal(t *testing.T) {
	var calls atomic.Int32
	c := newTestCoordinator(t, func(context.Context, schedule.Source) ([]schedule.Event, error) {
		calls.Add(1)
		return nil, nil
	}, nil)

	src := source("a")
	src.Adapter = "nope"
	result := c.Run(context.Background(), []schedule.Source{src})

	require.Zero(t, calls.Load(), "no extraction attempt for an unregistered adapter")
	require.Equal(t, StatusTotal, result.Status)
	require.Equal(t, errclass.Fatal, result.Failures[0].Kind)
	require.Contains(t, result.Failures[0].Message, "fatal:")
}

func TestRunAdapterPanicBecomesFailure(t *testing.T) {
	day := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	c := newTestCoordinator(t, func(_ context.Context, src schedule.Source) ([]schedule.Event, error) {
		if src.Key == "a" {
			panic("nil dereference in parser")
		}
		return []schedule.Event{eventFor(src, "V", day)}, nil
	}, nil)

	result := c.Run(context.Background(), []schedule.Source{source("a"), source("b")})
	require.Equal(t, StatusPartial, result.Status)
	require.Len(t, result.Failures, 1)
	require.Equal(t, errclass.NonRetryable, result.Failures[0].Kind)
}

func TestRunConcurrencyBound(t *testing.T) {
	var active, peak atomic.Int32
	reg := adapter.NewRegistry()
	reg.Register("test", adapter.Func(func(context.Context, schedule.Source) ([]schedule.Event, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		return nil, nil
	}))
	c := New(reg, Config{MaxConcurrent: 2, Retry: fastRetry()}, nil, nil)

	sources := []schedule.Source{source("a"), source("b"), source("c"), source("d"), source("e")}
	result := c.Run(context.Background(), sources)

	require.Equal(t, StatusFull, result.Status)
	require.LessOrEqual(t, peak.Load(), int32(2), "no more than MaxConcurrent sources in flight")
}

func TestRunDeadlineCancelsPendingSources(t *testing.T) {
	reg := adapter.NewRegistry()
	reg.Register("test", adapter.Func(func(ctx context.Context, _ schedule.Source) ([]schedule.Event, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	c := New(reg, Config{MaxConcurrent: 1, Retry: retry.Config{MaxAttempts: 1, BackoffBase: 2, BackoffUnit: time.Millisecond}}, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result := c.Run(ctx, []schedule.Source{source("a"), source("b"), source("c")})

	require.Equal(t, StatusTotal, result.Status)
	require.Len(t, result.Failures, 3, "every source still gets exactly one outcome")
}

func TestRunEmitsProgress(t *testing.T) {
	day := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	var calls atomic.Int32
	sink := &recordingSink{}
	c := newTestCoordinator(t, func(_ context.Context, src schedule.Source) ([]schedule.Event, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("transient")
		}
		return []schedule.Event{eventFor(src, "V", day)}, nil
	}, sink)

	result := c.Run(context.Background(), []schedule.Source{source("a")})
	require.Equal(t, StatusFull, result.Status)

	stages := sink.stages()
	require.Equal(t, progress.StageRunStart, stages[0])
	require.Equal(t, progress.StageRunDone, stages[len(stages)-1])
	require.Contains(t, stages, progress.StageSourceStart)
	require.Contains(t, stages, progress.StageSourceRetry)
	require.Contains(t, stages, progress.StageSourceDone)
}
