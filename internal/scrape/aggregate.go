package scrape

import (
	"errors"
	"fmt"
	"time"

	"github.com/ballardtrucks/roundup/internal/errclass"
	"github.com/ballardtrucks/roundup/internal/retry"
	"github.com/ballardtrucks/roundup/internal/schedule"
)

// Status summarizes a run: every source succeeded, some did, or none did.
type Status int

const (
	// StatusFull means no source failed (a run over zero sources counts).
	StatusFull Status = iota
	// StatusPartial means at least one source succeeded and one failed.
	StatusPartial
	// StatusTotal means every attempted source failed.
	StatusTotal
)

func (s Status) String() string {
	switch s {
	case StatusFull:
		return "full"
	case StatusPartial:
		return "partial"
	case StatusTotal:
		return "total-failure"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ExitCode maps the status to the process exit signal consumed by
// schedulers: 0 full, 1 total failure, 2 partial.
func (s Status) ExitCode() int {
	switch s {
	case StatusFull:
		return 0
	case StatusTotal:
		return 1
	default:
		return 2
	}
}

// Failure names one failed source and the human-readable cause category.
type Failure struct {
	SourceKey  string        `json:"source_key"`
	SourceName string        `json:"source_name"`
	Kind       errclass.Kind `json:"-"`
	Message    string        `json:"message"`
}

// Result is the merged output of one coordinator run.
type Result struct {
	Events   []schedule.Event `json:"events"`
	Failures []Failure        `json:"failures"`
	Status   Status           `json:"status"`
}

// Aggregate merges per-source outcomes: valid events from every success,
// deduplicated and deterministically ordered, plus one failure entry per
// failed source and the derived tri-state status.
func Aggregate(outcomes []Outcome) Result {
	var events []schedule.Event
	var failures []Failure
	successes := 0
	for _, o := range outcomes {
		if o.Failed() {
			failures = append(failures, Failure{
				SourceKey:  o.Source.Key,
				SourceName: o.Source.Name,
				Kind:       o.Kind,
				Message:    describeCause(o),
			})
			continue
		}
		successes++
		events = append(events, o.Events...)
	}

	events = schedule.Filter(events)
	events = dedupe(events)
	schedule.Sort(events)

	var status Status
	switch {
	case len(failures) == 0:
		status = StatusFull
	case successes == 0:
		status = StatusTotal
	default:
		status = StatusPartial
	}
	return Result{Events: events, Failures: failures, Status: status}
}

func describeCause(o Outcome) string {
	var exhausted *retry.ExhaustedError
	switch {
	case o.Kind == errclass.Fatal:
		return "fatal: " + o.Err.Error()
	case errors.As(o.Err, &exhausted):
		return fmt.Sprintf("network: exhausted %d attempts: %v", exhausted.Attempts, exhausted.Last)
	case o.Kind == errclass.NonRetryable:
		return "skipped: " + o.Err.Error()
	default:
		return "network: " + o.Err.Error()
	}
}

// dedupe drops exact repeats of (source, vendor, date, start), keeping the
// first occurrence. Identical entries show up when a source publishes the
// same booking on more than one page.
func dedupe(events []schedule.Event) []schedule.Event {
	type key struct {
		source string
		vendor string
		date   time.Time
		start  time.Time
	}
	seen := make(map[key]struct{}, len(events))
	kept := events[:0]
	for _, e := range events {
		k := key{source: e.SourceKey, vendor: e.Vendor, date: e.Date, start: e.EffectiveStart()}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		kept = append(kept, e)
	}
	return kept
}
