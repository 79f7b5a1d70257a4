package pipeline

import (
	"context"
	"time"

	"github.com/looplab/fsm"

	"github.com/attune-ai/attune/pkg/logger"
)

const (
	StateResolving  = "resolving"
	StateRetrieving = "retrieving"
	StateAssembling = "assembling"
	StateInvoking   = "invoking"
	StateEmitting   = "emitting"
	StateDone       = "done"
	StateFailed     = "failed"
)

const (
	EventResolved  = "resolved"
	EventRetrieved = "retrieved"
	EventAssembled = "assembled"
	EventInvoked   = "invoked"
	EventEmitted   = "emitted"
	EventFailure   = "failure"
)

// stageDeps is what the state machine asks of the orchestrator. Each handler
// runs when its state is entered and names the event that leaves it.
type stageDeps interface {
	OnResolving(ctx context.Context, run *runContext) transitionResult
	OnRetrieving(ctx context.Context, run *runContext) transitionResult
	OnAssembling(ctx context.Context, run *runContext) transitionResult
	OnInvoking(ctx context.Context, run *runContext) transitionResult
	OnEmitting(ctx context.Context, run *runContext) transitionResult
}

type transitionResult struct {
	Event string
	Err   error
}

// newPipelineFSM builds the strictly-forward request state machine. Failure
// is reachable from every pre-emission stage; retrieval failures are
// absorbed by the retrieving handler and never surface here.
func newPipelineFSM(observer *transitionObserver) *fsm.FSM {
	return fsm.NewFSM(
		StateResolving,
		fsm.Events{
			{Name: EventResolved, Src: []string{StateResolving}, Dst: StateRetrieving},
			{Name: EventRetrieved, Src: []string{StateRetrieving}, Dst: StateAssembling},
			{Name: EventAssembled, Src: []string{StateAssembling}, Dst: StateInvoking},
			{Name: EventInvoked, Src: []string{StateInvoking}, Dst: StateEmitting},
			{Name: EventEmitted, Src: []string{StateEmitting}, Dst: StateDone},
			{
				Name: EventFailure,
				Src: []string{
					StateResolving,
					StateRetrieving,
					StateAssembling,
					StateInvoking,
					StateEmitting,
				},
				Dst: StateFailed,
			},
		},
		fsm.Callbacks{
			"before_event": func(cbCtx context.Context, e *fsm.Event) { observer.BeforeEvent(cbCtx, e) },
			"after_event":  func(cbCtx context.Context, e *fsm.Event) { observer.AfterEvent(cbCtx, e) },
		},
	)
}

// dispatch runs the handler for the machine's current state and returns the
// outgoing event. Terminal states return an empty result.
func dispatch(ctx context.Context, deps stageDeps, state string, run *runContext) transitionResult {
	switch state {
	case StateResolving:
		return deps.OnResolving(ctx, run)
	case StateRetrieving:
		return deps.OnRetrieving(ctx, run)
	case StateAssembling:
		return deps.OnAssembling(ctx, run)
	case StateInvoking:
		return deps.OnInvoking(ctx, run)
	case StateEmitting:
		return deps.OnEmitting(ctx, run)
	default:
		return transitionResult{}
	}
}

type transitionObserver struct {
	now       func() time.Time
	requestID string
	startedAt time.Time
}

func newTransitionObserver(requestID string) *transitionObserver {
	return &transitionObserver{now: time.Now, requestID: requestID}
}

func (o *transitionObserver) BeforeEvent(ctx context.Context, e *fsm.Event) {
	o.startedAt = o.now()
	logger.FromContext(ctx).Debug("pipeline transition start",
		"request_id", o.requestID,
		"event", e.Event,
		"from_state", e.Src,
		"to_state", e.Dst,
	)
}

func (o *transitionObserver) AfterEvent(ctx context.Context, e *fsm.Event) {
	keyvals := []any{
		"request_id", o.requestID,
		"event", e.Event,
		"from_state", e.Src,
		"to_state", e.Dst,
	}
	if !o.startedAt.IsZero() {
		keyvals = append(keyvals, "duration_ms", o.now().Sub(o.startedAt).Milliseconds())
	}
	logger.FromContext(ctx).Debug("pipeline transition complete", keyvals...)
}
