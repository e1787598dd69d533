// Package progress defines the structured events the coordinator emits
// while a run executes, and the sink boundary that consumes them. The
// coordinator stays pure: it reports milestones through an explicit
// Emitter instead of ambient logging.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported run and source milestones.
const (
	StageRunStart    Stage = "RUN_START"
	StageRunDone     Stage = "RUN_DONE"
	StageSourceStart Stage = "SOURCE_START"
	StageSourceRetry Stage = "SOURCE_RETRY"
	StageSourceDone  Stage = "SOURCE_DONE"
	StageSourceError Stage = "SOURCE_ERROR"
)

// Event captures a single coordinator milestone.
type Event struct {
	// RunID identifies the coordinator run the event belongs to.
	RunID uuid.UUID
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage is the milestone kind.
	Stage Stage
	// SourceKey scopes source-level events; empty for run-level ones.
	SourceKey string
	// Attempt is the 1-based attempt number for retry events.
	Attempt int
	// Events counts extracted records for SOURCE_DONE and RUN_DONE.
	Events int
	// Cause carries the failure classification label for error events.
	Cause string
	// Dur is the elapsed wall time for done/error events.
	Dur time.Duration
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
	case StageSourceStart, StageSourceRetry, StageSourceDone, StageSourceError:
		if e.SourceKey == "" {
			return fmt.Errorf("%s requires a source key", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Sink consumes events. Implementations must tolerate concurrent calls;
// source tasks emit from their own goroutines.
type Sink interface {
	Observe(evt Event)
}

// Emitter publishes events. A nil *Fanout is a valid no-op Emitter so the
// coordinator never has to branch on instrumentation being configured.
type Emitter interface {
	Emit(evt Event)
}

// Fanout forwards each valid event to every registered sink, in order.
type Fanout struct {
	sinks []Sink
}

// NewFanout builds a Fanout over sinks; nil sinks are skipped.
func NewFanout(sinks ...Sink) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Emit forwards evt to all sinks. Invalid events are discarded.
func (f *Fanout) Emit(evt Event) {
	if f == nil {
		return
	}
	if err := evt.Validate(); err != nil {
		return
	}
	for _, s := range f.sinks {
		s.Observe(evt)
	}
}
