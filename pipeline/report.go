// Package pipeline runs detection cycles and schedules them.
package pipeline

import (
	"fmt"
	"time"

	"github.com/nvr-ai/go-phase/decision"
	"github.com/nvr-ai/go-phase/journal"
)

// State is a step of a cycle.
type State string

// Cycle states, in the order a successful cycle visits them.
const (
	StateIdle            State = "idle"
	StateCapturing       State = "capturing"
	StateCaptured        State = "captured"
	StateCaptureFailed   State = "capture_failed"
	StateDetecting       State = "detecting"
	StateDetected        State = "detected"
	StateDetectionFailed State = "detection_failed"
	StateDeciding        State = "deciding"
	StatePublishing      State = "publishing"
	StatePersisting      State = "persisting"
	StateDone            State = "done"
)

// FailureKind classifies a stage failure.
type FailureKind string

// Failure kinds.
const (
	FailureCapture        FailureKind = "capture"
	FailureDetection      FailureKind = "detection"
	FailurePublish        FailureKind = "publish"
	FailureArtifactUpload FailureKind = "artifact_upload"
	FailureRecordInsert   FailureKind = "record_insert"
)

// Failure is a failed stage and its cause.
type Failure struct {
	Kind FailureKind
	Err  error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s failed: %v", f.Kind, f.Err)
}

// Unwrap returns the cause.
func (f Failure) Unwrap() error { return f.Err }

// stageResult is the typed outcome of one stage: a value or a failure.
type stageResult[T any] struct {
	value   T
	failure *Failure
}

func succeed[T any](v T) stageResult[T] {
	return stageResult[T]{value: v}
}

func fail[T any](kind FailureKind, err error) stageResult[T] {
	return stageResult[T]{failure: &Failure{Kind: kind, Err: err}}
}

func (r stageResult[T]) ok() bool { return r.failure == nil }

// Report describes one finished cycle.
type Report struct {
	// ID identifies the cycle in console logs.
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	// Trace lists every state the cycle entered, starting at StateIdle and ending at StateDone.
	Trace []State
	// Labels are the detected phases, highest confidence first.
	Labels []string
	// Outcome is set once the cycle reached StateDeciding.
	Outcome *decision.Outcome
	// Published is true when the publish sink accepted the command.
	Published bool
	// Reference is the stored artifact reference, empty when nothing was uploaded.
	Reference string
	// Recorded is true when the record row was inserted.
	Recorded bool
	// Inference is the backend time spent on the frame.
	Inference time.Duration
	// Failures lists every failed stage in order.
	Failures []Failure
	// Status and Detail are the final journal entry of the cycle.
	Status journal.Status
	Detail string
}

// State returns the last state entered.
func (r *Report) State() State {
	if len(r.Trace) == 0 {
		return StateIdle
	}
	return r.Trace[len(r.Trace)-1]
}

// Visited reports whether the cycle entered s.
func (r *Report) Visited(s State) bool {
	for _, t := range r.Trace {
		if t == s {
			return true
		}
	}
	return false
}

// Failed reports whether a stage of the given kind failed.
func (r *Report) Failed(kind FailureKind) bool {
	for _, f := range r.Failures {
		if f.Kind == kind {
			return true
		}
	}
	return false
}

// Succeeded reports whether the final entry is a success.
func (r *Report) Succeeded() bool {
	return r.Status == journal.StatusSuccess
}

func (r *Report) enter(s State) {
	r.Trace = append(r.Trace, s)
}
