package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/attune-ai/attune/engine/assistant"
	"github.com/attune-ai/attune/engine/core"
	"github.com/attune-ai/attune/engine/knowledge"
	"github.com/attune-ai/attune/engine/llm"
	"github.com/attune-ai/attune/engine/prompt"
	"github.com/attune-ai/attune/engine/registry"
	"github.com/attune-ai/attune/engine/tenant"
	"github.com/attune-ai/attune/pkg/logger"
)

const defaultInvocationTimeout = 120 * time.Second

// Orchestrator runs one request through the pipeline stages. One instance
// serves any number of concurrent requests: the only shared state it touches
// is the sealed registry and the resolver's cache.
type Orchestrator struct {
	assistants        assistant.Store
	tenants           *tenant.Resolver
	registry          *registry.Registry
	invocationTimeout time.Duration
}

type Option func(*Orchestrator)

func WithInvocationTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.invocationTimeout = d
		}
	}
}

func New(
	assistants assistant.Store,
	tenants *tenant.Resolver,
	reg *registry.Registry,
	opts ...Option,
) (*Orchestrator, error) {
	if assistants == nil {
		return nil, errors.New("pipeline: assistant store is required")
	}
	if tenants == nil {
		return nil, errors.New("pipeline: tenant resolver is required")
	}
	if reg == nil {
		return nil, errors.New("pipeline: capability registry is required")
	}
	o := &Orchestrator{
		assistants:        assistants,
		tenants:           tenants,
		registry:          reg,
		invocationTimeout: defaultInvocationTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Execute drives the request through the state machine until done or
// failed. The returned error, when non-nil, carries a taxonomy kind for the
// transport layer to map.
func (o *Orchestrator) Execute(ctx context.Context, req *Request, emitter Emitter) error {
	if req == nil || emitter == nil {
		return core.NewError(core.KindInvalidRequest, "request and emitter are required", nil)
	}
	run := &runContext{
		request:   req,
		emitter:   emitter,
		requestID: "cmpl-" + uuid.NewString(),
	}
	machine := newPipelineFSM(newTransitionObserver(run.requestID))
	for {
		if err := ctx.Err(); err != nil && run.err == nil {
			run.err = err
		}
		result := transitionResult{Event: EventFailure}
		if run.err == nil {
			result = dispatch(ctx, o, machine.Current(), run)
		}
		event := result.Event
		if result.Err != nil {
			run.err = result.Err
			event = EventFailure
		}
		if err := machine.Event(ctx, event, run); err != nil {
			if run.err == nil {
				run.err = fmt.Errorf("pipeline: transition %s from %s: %w", event, machine.Current(), err)
			}
			return run.err
		}
		switch machine.Current() {
		case StateDone:
			return nil
		case StateFailed:
			o.logFailure(ctx, run)
			return run.err
		}
	}
}

func (o *Orchestrator) logFailure(ctx context.Context, run *runContext) {
	logger.FromContext(ctx).Error("pipeline request failed",
		"request_id", run.requestID,
		"assistant_id", run.request.AssistantID,
		"error_kind", core.KindOf(run.err),
		"error", run.err,
	)
}

// OnResolving loads the assistant, resolves the tenant configuration and
// looks up every named capability. It fails before any provider or
// knowledge-base call is made.
func (o *Orchestrator) OnResolving(ctx context.Context, run *runContext) transitionResult {
	spec, err := o.assistants.Get(ctx, run.request.AssistantID)
	if err != nil {
		return failWith(core.NewError(
			core.KindConfigurationNotFound,
			fmt.Sprintf("assistant %q could not be resolved", run.request.AssistantID),
			err,
		))
	}
	run.spec = spec
	tenantID := spec.TenantID
	if tenantID == "" {
		tenantID = run.request.TenantID
	}
	cfg, err := o.tenants.Resolve(ctx, tenantID)
	if err != nil {
		return failWith(err)
	}
	run.tenantCfg = cfg
	if name := spec.Capabilities.Retriever; name != "" {
		retriever, lookupErr := o.registry.Retriever(name)
		if lookupErr != nil {
			return failWith(lookupErr)
		}
		run.retriever = retriever
	}
	assemblerName := spec.Capabilities.Assembler
	if assemblerName == "" {
		assemblerName = prompt.StandardAssemblerName
	}
	assembler, err := o.registry.Assembler(assemblerName)
	if err != nil {
		return failWith(err)
	}
	run.assembler = assembler
	provider, err := o.selectProvider(spec, cfg)
	if err != nil {
		return failWith(err)
	}
	connector, err := o.registry.Connector(provider)
	if err != nil {
		return failWith(err)
	}
	run.connector = connector
	run.settings = cfg.Provider(provider)
	return transitionResult{Event: EventResolved}
}

// selectProvider honors the assistant's explicit choice, otherwise picks the
// first enabled provider in the stable KnownProviders order.
func (o *Orchestrator) selectProvider(
	spec *assistant.Spec,
	cfg *tenant.Config,
) (core.ProviderName, error) {
	if spec.Capabilities.Provider != "" {
		return spec.Capabilities.Provider, nil
	}
	for _, name := range core.KnownProviders() {
		if ps := cfg.Provider(name); ps != nil && ps.Enabled {
			return name, nil
		}
	}
	return "", core.NewError(
		core.KindNoModelAvailable,
		fmt.Sprintf("tenant %q has no enabled provider", cfg.TenantID),
		nil,
	)
}

// OnRetrieving runs the optional retrieval stage. Retrieval degrades, it
// does not block answering: any failure leaves an empty result.
func (o *Orchestrator) OnRetrieving(ctx context.Context, run *runContext) transitionResult {
	run.retrieval = &knowledge.Result{}
	if run.retriever == nil || len(run.spec.Collections) == 0 {
		return transitionResult{Event: EventRetrieved}
	}
	result, err := run.retriever.Retrieve(ctx, &knowledge.Input{
		Spec:          run.spec,
		Messages:      run.request.Messages,
		KnowledgeBase: run.tenantCfg.KnowledgeBase,
	})
	if err != nil {
		logger.FromContext(ctx).Warn("retrieval degraded, continuing without context",
			"request_id", run.requestID,
			"assistant_id", run.spec.ID,
			"error", err,
		)
		return transitionResult{Event: EventRetrieved}
	}
	if result != nil {
		run.retrieval = result
	}
	return transitionResult{Event: EventRetrieved}
}

// OnAssembling is pure and cannot fail for well-formed inputs.
func (o *Orchestrator) OnAssembling(_ context.Context, run *runContext) transitionResult {
	messages, err := run.assembler.Assemble(&prompt.Input{
		Spec:      run.spec,
		Messages:  run.request.Messages,
		Retrieval: run.retrieval,
	})
	if err != nil {
		return failWith(core.NewError(core.KindInternal, "prompt assembly failed", err))
	}
	run.messages = messages
	return transitionResult{Event: EventAssembled}
}

// OnInvoking resolves the model through the fallback chain and, for
// non-streaming requests, performs the call. Streaming invocation is
// deferred to emitting so fragments flush as they arrive.
func (o *Orchestrator) OnInvoking(ctx context.Context, run *runContext) transitionResult {
	resolution, err := llm.ResolveModel(
		ctx,
		run.connector.Name(),
		run.spec.Capabilities.Model,
		run.settings,
		run.connector.Capabilities(),
	)
	if err != nil {
		return failWith(err)
	}
	run.resolution = resolution
	if run.request.Stream {
		return transitionResult{Event: EventInvoked}
	}
	invokeCtx, cancel := context.WithTimeout(ctx, o.invocationTimeout)
	defer cancel()
	completion, err := run.connector.Invoke(invokeCtx, o.connectorRequest(run))
	if err != nil {
		return failWith(asInvocationError(run.connector.Name(), err))
	}
	run.completion = completion
	return transitionResult{Event: EventInvoked}
}

// OnEmitting adapts the invocation result onto the emitter. For streaming it
// stays active until the connector finishes or fails; a mid-stream failure
// closes the stream with a terminal error frame instead of leaving it open.
func (o *Orchestrator) OnEmitting(ctx context.Context, run *runContext) transitionResult {
	if !run.request.Stream {
		if err := run.emitter.Completion(o.buildCompletion(run)); err != nil {
			return failWith(core.NewError(core.KindInternal, "writing response failed", err))
		}
		return transitionResult{Event: EventEmitted}
	}
	return o.emitStream(ctx, run)
}

func (o *Orchestrator) emitStream(ctx context.Context, run *runContext) transitionResult {
	invokeCtx, cancel := context.WithTimeout(ctx, o.invocationTimeout)
	defer cancel()
	err := o.streamContent(invokeCtx, run)
	if err != nil {
		return o.interruptStream(ctx, run, err)
	}
	stop := llm.FinishReasonStop
	final := &StreamFrame{
		ID:        run.requestID,
		Model:     run.resolution.Model,
		Choices:   []StreamChoice{{FinishReason: &stop}},
		Citations: run.retrieval.Citations,
	}
	if err := run.emitter.Final(final); err != nil {
		return failWith(core.NewError(core.KindStreamInterrupted, "closing stream failed", err))
	}
	return transitionResult{Event: EventEmitted}
}

// streamContent pushes content frames as fragments arrive. Connectors that
// cannot stream are invoked whole and their completion replayed as a single
// fragment, keeping the wire contract identical.
func (o *Orchestrator) streamContent(ctx context.Context, run *runContext) error {
	req := o.connectorRequest(run)
	emit := func(fragment llm.Fragment) error {
		frame := &StreamFrame{
			ID:      run.requestID,
			Model:   run.resolution.Model,
			Choices: []StreamChoice{{Delta: Delta{Content: fragment.Content}}},
		}
		if err := run.emitter.Fragment(frame); err != nil {
			return fmt.Errorf("flushing fragment: %w", err)
		}
		run.fragments++
		return nil
	}
	if !run.connector.Capabilities().Streaming {
		completion, err := run.connector.Invoke(ctx, req)
		if err != nil {
			return asInvocationError(run.connector.Name(), err)
		}
		return emit(llm.Fragment{Content: completion.Content})
	}
	if err := run.connector.Stream(ctx, req, emit); err != nil {
		return asInvocationError(run.connector.Name(), err)
	}
	return nil
}

// interruptStream closes a broken stream with a terminal error frame. Once
// content frames have been flushed the surfaced kind is StreamInterrupted;
// before that, the underlying kind is more useful to the client.
func (o *Orchestrator) interruptStream(ctx context.Context, run *runContext, cause error) transitionResult {
	kind := core.KindOf(cause)
	message := core.SafeMessage(cause)
	if run.fragments > 0 {
		kind = core.KindStreamInterrupted
		message = "stream interrupted: " + message
	}
	frame := &ErrorFrame{
		ID:    run.requestID,
		Error: ErrorInfo{Kind: string(kind), Message: message},
	}
	if err := run.emitter.Interrupted(frame); err != nil {
		logger.FromContext(ctx).Warn("writing terminal error frame failed",
			"request_id", run.requestID,
			"error", err,
		)
	}
	return failWith(core.NewError(kind, message, cause))
}

func (o *Orchestrator) connectorRequest(run *runContext) *llm.Request {
	creds := llm.Credentials{}
	if run.settings != nil {
		creds.APIKey = run.settings.APIKey
		creds.APIURL = run.settings.APIURL
	}
	return &llm.Request{
		Messages:    run.messages,
		Model:       run.resolution.Model,
		Credentials: creds,
	}
}

func (o *Orchestrator) buildCompletion(run *runContext) *CompletionResponse {
	finish := run.completion.FinishReason
	if finish == "" {
		finish = llm.FinishReasonStop
	}
	return &CompletionResponse{
		ID:    run.requestID,
		Model: run.resolution.Model,
		Choices: []CompletionChoice{{
			Message:      llm.Message{Role: llm.RoleAssistant, Content: run.completion.Content},
			FinishReason: finish,
		}},
		Citations: run.retrieval.Citations,
	}
}

func failWith(err error) transitionResult {
	return transitionResult{Event: EventFailure, Err: err}
}

// asInvocationError classifies raw connector errors that carry no taxonomy
// kind yet.
func asInvocationError(provider core.ProviderName, err error) error {
	var kerr *core.Error
	if errors.As(err, &kerr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return core.NewError(
			core.KindProviderInvocation,
			fmt.Sprintf("provider %s: invocation canceled or timed out", provider),
			err,
		)
	}
	return core.NewError(
		core.KindProviderInvocation,
		fmt.Sprintf("provider %s: invocation failed", provider),
		err,
	)
}
