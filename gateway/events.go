package gateway

import "time"

// WorkflowState is a position in the account creation pipeline.
type WorkflowState string

const (
	StateStart                WorkflowState = "start"
	StateSourceAccountFetched WorkflowState = "source_account_fetched"
	StateTransactionBuilt     WorkflowState = "transaction_built"
	StateTransactionSigned    WorkflowState = "transaction_signed"
	StateSubmitted            WorkflowState = "submitted"
	StateConfirmationPolled   WorkflowState = "confirmation_polled"
	StateDone                 WorkflowState = "done"

	StateFailedAtFetch   WorkflowState = "failed_at_fetch"
	StateFailedAtBuild   WorkflowState = "failed_at_build"
	StateFailedAtSign    WorkflowState = "failed_at_sign"
	StateFailedAtSubmit  WorkflowState = "failed_at_submit"
	StateFailedAtConfirm WorkflowState = "failed_at_confirm"
)

// Terminal reports whether no further transition follows s.
func (s WorkflowState) Terminal() bool {
	switch s {
	case StateDone, StateFailedAtFetch, StateFailedAtBuild, StateFailedAtSign, StateFailedAtSubmit, StateFailedAtConfirm:
		return true
	}
	return false
}

// Stage names the step of the pipeline a failure happened in.
type Stage string

const (
	StageFetch   Stage = "fetch"
	StageBuild   Stage = "build"
	StageSign    Stage = "sign"
	StageSubmit  Stage = "submit"
	StageConfirm Stage = "confirm"
)

// FailedState maps a stage to its terminal failure state.
func (s Stage) FailedState() WorkflowState {
	switch s {
	case StageFetch:
		return StateFailedAtFetch
	case StageBuild:
		return StateFailedAtBuild
	case StageSign:
		return StateFailedAtSign
	case StageSubmit:
		return StateFailedAtSubmit
	default:
		return StateFailedAtConfirm
	}
}

// Event records one workflow transition.
type Event struct {
	WorkflowID  string
	State       WorkflowState
	Stage       Stage
	Destination string
	Hash        string
	Error       string
	Timestamp   time.Time
	Details     map[string]string
}

// EventSink receives workflow events. Publish must not block the workflow.
type EventSink interface {
	Publish(Event)
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Publish(Event) {}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(Event)

func (f SinkFunc) Publish(e Event) { f(e) }

// Sinks fans every event out to each non-nil sink in order.
func Sinks(sinks ...EventSink) EventSink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

type multiSink []EventSink

func (m multiSink) Publish(e Event) {
	for _, s := range m {
		s.Publish(e)
	}
}
