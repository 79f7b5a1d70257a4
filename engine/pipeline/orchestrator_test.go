package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attune-ai/attune/engine/assistant"
	"github.com/attune-ai/attune/engine/core"
	"github.com/attune-ai/attune/engine/knowledge"
	"github.com/attune-ai/attune/engine/llm"
	"github.com/attune-ai/attune/engine/llm/connectors"
	"github.com/attune-ai/attune/engine/prompt"
	"github.com/attune-ai/attune/engine/registry"
	"github.com/attune-ai/attune/engine/tenant"
)

// captureEmitter records everything the pipeline emits.
type captureEmitter struct {
	completion *CompletionResponse
	frames     []*StreamFrame
	final      *StreamFrame
	errFrame   *ErrorFrame
}

func (e *captureEmitter) Completion(resp *CompletionResponse) error {
	e.completion = resp
	return nil
}

func (e *captureEmitter) Fragment(frame *StreamFrame) error {
	e.frames = append(e.frames, frame)
	return nil
}

func (e *captureEmitter) Final(frame *StreamFrame) error {
	e.final = frame
	return nil
}

func (e *captureEmitter) Interrupted(frame *ErrorFrame) error {
	e.errFrame = frame
	return nil
}

func (e *captureEmitter) streamedContent() string {
	var sb strings.Builder
	for _, frame := range e.frames {
		for _, choice := range frame.Choices {
			sb.WriteString(choice.Delta.Content)
		}
	}
	return sb.String()
}

// stubRetriever returns a fixed result or error.
type stubRetriever struct {
	result *knowledge.Result
	err    error
}

func (r *stubRetriever) Name() string { return knowledge.SemanticRetrieverName }

func (r *stubRetriever) Retrieve(context.Context, *knowledge.Input) (*knowledge.Result, error) {
	return r.result, r.err
}

// flakyConnector streams some fragments, then fails.
type flakyConnector struct {
	fragments []string
	err       error
}

func (c *flakyConnector) Name() core.ProviderName        { return core.ProviderMock }
func (c *flakyConnector) Capabilities() llm.Capabilities { return llm.Capabilities{Streaming: true} }

func (c *flakyConnector) Invoke(context.Context, *llm.Request) (*llm.Completion, error) {
	return nil, c.err
}

func (c *flakyConnector) Stream(_ context.Context, _ *llm.Request, fn llm.StreamFunc) error {
	for _, fragment := range c.fragments {
		if err := fn(llm.Fragment{Content: fragment}); err != nil {
			return err
		}
	}
	return c.err
}

// bufferedConnector cannot stream; the pipeline must replay its completion.
type bufferedConnector struct {
	content string
}

func (c *bufferedConnector) Name() core.ProviderName        { return core.ProviderMock }
func (c *bufferedConnector) Capabilities() llm.Capabilities { return llm.Capabilities{} }

func (c *bufferedConnector) Invoke(context.Context, *llm.Request) (*llm.Completion, error) {
	return &llm.Completion{Content: c.content, FinishReason: llm.FinishReasonStop}, nil
}

func (c *bufferedConnector) Stream(context.Context, *llm.Request, llm.StreamFunc) error {
	return errors.New("buffered connector cannot stream")
}

func testSpec() *assistant.Spec {
	return &assistant.Spec{
		ID:           "asst-1",
		TenantID:     "acme",
		Instructions: "Be helpful.",
		Capabilities: assistant.CapabilitySelection{Provider: core.ProviderMock},
	}
}

func testTenantSource() *tenant.StaticSource {
	return tenant.NewStaticSource(
		&tenant.Config{
			TenantID: tenant.SystemTenantID,
			Providers: map[core.ProviderName]*tenant.ProviderSettings{
				core.ProviderMock: {
					Enabled:       true,
					APIKey:        "mock-key",
					DefaultModel:  "mock-small",
					AllowedModels: []string{"mock-small", "mock-large"},
				},
			},
		},
		&tenant.Config{TenantID: "acme"},
	)
}

type fixture struct {
	store  *assistant.MemoryStore
	source *tenant.StaticSource
	reg    *registry.Registry
}

func newFixture(t *testing.T, connector llm.Connector, retriever knowledge.Retriever) *fixture {
	t.Helper()
	f := &fixture{
		store:  assistant.NewMemoryStore(testSpec()),
		source: testTenantSource(),
		reg:    registry.New(),
	}
	require.NoError(t, f.reg.RegisterAssembler(prompt.NewStandardAssembler()))
	if connector != nil {
		require.NoError(t, f.reg.RegisterConnector(connector))
	}
	if retriever != nil {
		require.NoError(t, f.reg.RegisterRetriever(retriever))
	}
	f.reg.Seal()
	return f
}

func (f *fixture) orchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	resolver, err := tenant.NewResolver(f.source)
	require.NoError(t, err)
	orch, err := New(f.store, resolver, f.reg)
	require.NoError(t, err)
	return orch
}

func testRequest(stream bool) *Request {
	return &Request{
		AssistantID: "asst-1",
		Stream:      stream,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: "hello"}},
	}
}

func TestOrchestratorCompletion(t *testing.T) {
	t.Run("Should produce a complete response through the mock connector", func(t *testing.T) {
		mock := connectors.NewMock("Hello", ", ", "world")
		f := newFixture(t, mock, nil)
		emitter := &captureEmitter{}

		err := f.orchestrator(t).Execute(context.Background(), testRequest(false), emitter)
		require.NoError(t, err)
		require.NotNil(t, emitter.completion)
		assert.True(t, strings.HasPrefix(emitter.completion.ID, "cmpl-"))
		assert.Equal(t, "mock-small", emitter.completion.Model)
		require.Len(t, emitter.completion.Choices, 1)
		choice := emitter.completion.Choices[0]
		assert.Equal(t, llm.RoleAssistant, choice.Message.Role)
		assert.Equal(t, "Hello, world", choice.Message.Content)
		assert.Equal(t, llm.FinishReasonStop, choice.FinishReason)
	})

	t.Run("Should pass tenant credentials and assembled prompt to the connector", func(t *testing.T) {
		mock := connectors.NewMock("ok")
		f := newFixture(t, mock, nil)

		err := f.orchestrator(t).Execute(context.Background(), testRequest(false), &captureEmitter{})
		require.NoError(t, err)
		require.NotNil(t, mock.LastRequest)
		assert.Equal(t, "mock-key", mock.LastRequest.Credentials.APIKey)
		assert.Equal(t, "mock-small", mock.LastRequest.Model)
		require.Len(t, mock.LastRequest.Messages, 2)
		assert.Equal(t, llm.RoleSystem, mock.LastRequest.Messages[0].Role)
		assert.Equal(t, "Be helpful.", mock.LastRequest.Messages[0].Content)
	})

	t.Run("Should fall back to the tenant default for a disallowed model", func(t *testing.T) {
		mock := connectors.NewMock("ok")
		f := newFixture(t, mock, nil)
		spec := testSpec()
		spec.Capabilities.Model = "mock-forbidden"
		f.store.Put(spec)
		emitter := &captureEmitter{}

		err := f.orchestrator(t).Execute(context.Background(), testRequest(false), emitter)
		require.NoError(t, err)
		assert.Equal(t, "mock-small", emitter.completion.Model)
	})

	t.Run("Should include citations from retrieval", func(t *testing.T) {
		mock := connectors.NewMock("grounded answer")
		retriever := &stubRetriever{result: &knowledge.Result{
			Context:   "[1] a passage",
			Citations: []knowledge.Citation{{Index: 1, Source: "doc.md", Score: 0.9}},
		}}
		f := newFixture(t, mock, retriever)
		spec := testSpec()
		spec.Capabilities.Retriever = knowledge.SemanticRetrieverName
		spec.Collections = []string{"docs"}
		f.store.Put(spec)
		emitter := &captureEmitter{}

		err := f.orchestrator(t).Execute(context.Background(), testRequest(false), emitter)
		require.NoError(t, err)
		require.Len(t, emitter.completion.Citations, 1)
		assert.Equal(t, "doc.md", emitter.completion.Citations[0].Source)
		assert.Contains(t, mock.LastRequest.Messages[0].Content, "[1] a passage")
	})

	t.Run("Should answer without context when retrieval fails", func(t *testing.T) {
		mock := connectors.NewMock("best effort")
		retriever := &stubRetriever{err: errors.New("kb unreachable")}
		f := newFixture(t, mock, retriever)
		spec := testSpec()
		spec.Capabilities.Retriever = knowledge.SemanticRetrieverName
		spec.Collections = []string{"docs"}
		f.store.Put(spec)
		emitter := &captureEmitter{}

		err := f.orchestrator(t).Execute(context.Background(), testRequest(false), emitter)
		require.NoError(t, err)
		assert.Equal(t, "best effort", emitter.completion.Choices[0].Message.Content)
		assert.Empty(t, emitter.completion.Citations)
		assert.Equal(t, "Be helpful.", mock.LastRequest.Messages[0].Content)
	})

	t.Run("Should pick the first enabled provider when the assistant names none", func(t *testing.T) {
		mock := connectors.NewMock("ok")
		f := newFixture(t, mock, nil)
		spec := testSpec()
		spec.Capabilities.Provider = ""
		f.store.Put(spec)
		emitter := &captureEmitter{}

		err := f.orchestrator(t).Execute(context.Background(), testRequest(false), emitter)
		require.NoError(t, err)
		require.NotNil(t, emitter.completion)
	})
}

func TestOrchestratorFailures(t *testing.T) {
	t.Run("Should fail with configuration_not_found for an unknown assistant", func(t *testing.T) {
		f := newFixture(t, connectors.NewMock("ok"), nil)
		req := testRequest(false)
		req.AssistantID = "ghost"

		err := f.orchestrator(t).Execute(context.Background(), req, &captureEmitter{})
		require.Error(t, err)
		assert.Equal(t, core.KindConfigurationNotFound, core.KindOf(err))
	})

	t.Run("Should fail with configuration_not_found for an unknown tenant", func(t *testing.T) {
		f := newFixture(t, connectors.NewMock("ok"), nil)
		spec := testSpec()
		spec.TenantID = "ghost"
		f.store.Put(spec)

		err := f.orchestrator(t).Execute(context.Background(), testRequest(false), &captureEmitter{})
		require.Error(t, err)
		assert.Equal(t, core.KindConfigurationNotFound, core.KindOf(err))
	})

	t.Run("Should fail with capability_not_found for an unknown retriever", func(t *testing.T) {
		f := newFixture(t, connectors.NewMock("ok"), nil)
		spec := testSpec()
		spec.Capabilities.Retriever = "exotic"
		f.store.Put(spec)

		err := f.orchestrator(t).Execute(context.Background(), testRequest(false), &captureEmitter{})
		require.Error(t, err)
		assert.Equal(t, core.KindCapabilityNotFound, core.KindOf(err))
	})

	t.Run("Should fail with capability_not_found for an unregistered provider", func(t *testing.T) {
		f := newFixture(t, connectors.NewMock("ok"), nil)
		spec := testSpec()
		spec.Capabilities.Provider = core.ProviderAnthropic
		f.store.Put(spec)

		err := f.orchestrator(t).Execute(context.Background(), testRequest(false), &captureEmitter{})
		require.Error(t, err)
		assert.Equal(t, core.KindCapabilityNotFound, core.KindOf(err))
	})

	t.Run("Should fail with no_model_available when the provider is disabled", func(t *testing.T) {
		f := newFixture(t, connectors.NewMock("ok"), nil)
		f.source.Put(&tenant.Config{
			TenantID: "acme",
			Providers: map[core.ProviderName]*tenant.ProviderSettings{
				core.ProviderMock: {Enabled: false},
			},
		})

		err := f.orchestrator(t).Execute(context.Background(), testRequest(false), &captureEmitter{})
		require.Error(t, err)
		assert.Equal(t, core.KindNoModelAvailable, core.KindOf(err))
	})

	t.Run("Should fail with provider_invocation_error when the connector fails", func(t *testing.T) {
		mock := connectors.NewMock()
		mock.Err = errors.New("upstream exploded")
		f := newFixture(t, mock, nil)
		emitter := &captureEmitter{}

		err := f.orchestrator(t).Execute(context.Background(), testRequest(false), emitter)
		require.Error(t, err)
		assert.Equal(t, core.KindProviderInvocation, core.KindOf(err))
		assert.Nil(t, emitter.completion)
	})
}

func TestOrchestratorStreaming(t *testing.T) {
	t.Run("Should stream fragments and close with a stop frame", func(t *testing.T) {
		mock := connectors.NewMock("Hel", "lo ", "there")
		f := newFixture(t, mock, nil)
		emitter := &captureEmitter{}

		err := f.orchestrator(t).Execute(context.Background(), testRequest(true), emitter)
		require.NoError(t, err)
		require.Len(t, emitter.frames, 3)
		assert.Equal(t, "Hello there", emitter.streamedContent())
		require.NotNil(t, emitter.final)
		require.Len(t, emitter.final.Choices, 1)
		require.NotNil(t, emitter.final.Choices[0].FinishReason)
		assert.Equal(t, llm.FinishReasonStop, *emitter.final.Choices[0].FinishReason)
		assert.Nil(t, emitter.errFrame)
	})

	t.Run("Should yield the same content streamed and unstreamed", func(t *testing.T) {
		mock := connectors.NewMock("same ", "content ", "either way")
		f := newFixture(t, mock, nil)

		whole := &captureEmitter{}
		require.NoError(t, f.orchestrator(t).Execute(context.Background(), testRequest(false), whole))
		streamed := &captureEmitter{}
		require.NoError(t, f.orchestrator(t).Execute(context.Background(), testRequest(true), streamed))

		assert.Equal(t, whole.completion.Choices[0].Message.Content, streamed.streamedContent())
	})

	t.Run("Should carry citations on the final frame", func(t *testing.T) {
		mock := connectors.NewMock("grounded")
		retriever := &stubRetriever{result: &knowledge.Result{
			Context:   "[1] a passage",
			Citations: []knowledge.Citation{{Index: 1, Source: "doc.md", Score: 0.9}},
		}}
		f := newFixture(t, mock, retriever)
		spec := testSpec()
		spec.Capabilities.Retriever = knowledge.SemanticRetrieverName
		spec.Collections = []string{"docs"}
		f.store.Put(spec)
		emitter := &captureEmitter{}

		err := f.orchestrator(t).Execute(context.Background(), testRequest(true), emitter)
		require.NoError(t, err)
		require.NotNil(t, emitter.final)
		require.Len(t, emitter.final.Citations, 1)
		assert.Equal(t, "doc.md", emitter.final.Citations[0].Source)
	})

	t.Run("Should close a broken stream with a terminal error frame", func(t *testing.T) {
		connector := &flakyConnector{
			fragments: []string{"partial ", "answer"},
			err:       errors.New("connection reset"),
		}
		f := newFixture(t, connector, nil)
		emitter := &captureEmitter{}

		err := f.orchestrator(t).Execute(context.Background(), testRequest(true), emitter)
		require.Error(t, err)
		assert.Equal(t, core.KindStreamInterrupted, core.KindOf(err))
		assert.Len(t, emitter.frames, 2)
		assert.Nil(t, emitter.final)
		require.NotNil(t, emitter.errFrame)
		assert.Equal(t, string(core.KindStreamInterrupted), emitter.errFrame.Error.Kind)
	})

	t.Run("Should surface the underlying kind when the stream fails before content", func(t *testing.T) {
		connector := &flakyConnector{err: errors.New("bad credentials")}
		f := newFixture(t, connector, nil)
		emitter := &captureEmitter{}

		err := f.orchestrator(t).Execute(context.Background(), testRequest(true), emitter)
		require.Error(t, err)
		assert.Equal(t, core.KindProviderInvocation, core.KindOf(err))
		require.NotNil(t, emitter.errFrame)
		assert.Equal(t, string(core.KindProviderInvocation), emitter.errFrame.Error.Kind)
	})

	t.Run("Should replay a buffered completion as a single fragment", func(t *testing.T) {
		connector := &bufferedConnector{content: "all at once"}
		f := newFixture(t, connector, nil)
		emitter := &captureEmitter{}

		err := f.orchestrator(t).Execute(context.Background(), testRequest(true), emitter)
		require.NoError(t, err)
		require.Len(t, emitter.frames, 1)
		assert.Equal(t, "all at once", emitter.streamedContent())
		require.NotNil(t, emitter.final)
	})
}

func TestOrchestratorValidation(t *testing.T) {
	t.Run("Should reject a nil request", func(t *testing.T) {
		f := newFixture(t, connectors.NewMock("ok"), nil)
		err := f.orchestrator(t).Execute(context.Background(), nil, &captureEmitter{})
		require.Error(t, err)
		assert.Equal(t, core.KindInvalidRequest, core.KindOf(err))
	})
}
