// Package connectors holds the model-provider connector implementations.
// All remote providers are driven through langchaingo so a new vendor is a
// model factory plus capability flags, nothing more.
package connectors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/attune-ai/attune/engine/core"
	"github.com/attune-ai/attune/engine/llm"
)

const (
	groqBaseURL      = "https://api.groq.com/openai/v1"
	ollamaDefaultURL = "http://localhost:11434"

	rateLimitMaxRetries = 3
	rateLimitBaseDelay  = 500 * time.Millisecond
)

type modelFactory func(creds llm.Credentials, model string) (llms.Model, error)

type langchainConnector struct {
	name    core.ProviderName
	caps    llm.Capabilities
	factory modelFactory
}

// NewOpenAI returns the connector for the OpenAI chat-completion API.
func NewOpenAI() llm.Connector {
	return &langchainConnector{
		name: core.ProviderOpenAI,
		caps: llm.Capabilities{Streaming: true},
		factory: func(creds llm.Credentials, model string) (llms.Model, error) {
			opts := []openai.Option{openai.WithToken(creds.APIKey), openai.WithModel(model)}
			if creds.APIURL != "" {
				opts = append(opts, openai.WithBaseURL(creds.APIURL))
			}
			return openai.New(opts...)
		},
	}
}

// NewGroq returns the connector for Groq's OpenAI-compatible endpoint.
func NewGroq() llm.Connector {
	return &langchainConnector{
		name: core.ProviderGroq,
		caps: llm.Capabilities{Streaming: true},
		factory: func(creds llm.Credentials, model string) (llms.Model, error) {
			baseURL := creds.APIURL
			if baseURL == "" {
				baseURL = groqBaseURL
			}
			return openai.New(
				openai.WithToken(creds.APIKey),
				openai.WithModel(model),
				openai.WithBaseURL(baseURL),
			)
		},
	}
}

// NewAnthropic returns the connector for the Anthropic messages API.
func NewAnthropic() llm.Connector {
	return &langchainConnector{
		name: core.ProviderAnthropic,
		caps: llm.Capabilities{Streaming: true},
		factory: func(creds llm.Credentials, model string) (llms.Model, error) {
			opts := []anthropic.Option{anthropic.WithToken(creds.APIKey), anthropic.WithModel(model)}
			if creds.APIURL != "" {
				opts = append(opts, anthropic.WithBaseURL(creds.APIURL))
			}
			return anthropic.New(opts...)
		},
	}
}

// NewOllama returns the connector for a local Ollama daemon. Ollama manages
// its own model catalog, so the allow-list check is bypassed.
func NewOllama() llm.Connector {
	return &langchainConnector{
		name: core.ProviderOllama,
		caps: llm.Capabilities{Streaming: true, OpenModelList: true},
		factory: func(creds llm.Credentials, model string) (llms.Model, error) {
			serverURL := creds.APIURL
			if serverURL == "" {
				serverURL = ollamaDefaultURL
			}
			return ollama.New(ollama.WithServerURL(serverURL), ollama.WithModel(model))
		},
	}
}

func (c *langchainConnector) Name() core.ProviderName        { return c.name }
func (c *langchainConnector) Capabilities() llm.Capabilities { return c.caps }

func (c *langchainConnector) Invoke(ctx context.Context, req *llm.Request) (*llm.Completion, error) {
	return c.generate(ctx, req, nil)
}

func (c *langchainConnector) Stream(ctx context.Context, req *llm.Request, fn llm.StreamFunc) error {
	if fn == nil {
		return fmt.Errorf("connector %s: stream callback is required", c.name)
	}
	_, err := c.generate(ctx, req, fn)
	return err
}

func (c *langchainConnector) generate(
	ctx context.Context,
	req *llm.Request,
	fn llm.StreamFunc,
) (*llm.Completion, error) {
	model, err := c.factory(req.Credentials, req.Model)
	if err != nil {
		return nil, c.invocationError("client setup failed", err)
	}
	messages := convertMessages(req.Messages)
	var opts []llms.CallOption
	var streamed bool
	if fn != nil {
		opts = append(opts, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			streamed = true
			return fn(llm.Fragment{Content: string(chunk)})
		}))
	}
	var completion *llm.Completion
	backoff := retry.WithMaxRetries(rateLimitMaxRetries, retry.NewFibonacci(rateLimitBaseDelay))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		resp, genErr := model.GenerateContent(ctx, messages, opts...)
		if genErr != nil {
			// A retry after fragments reached the caller would replay the
			// stream from the start, so rate limits are only retried before
			// the first chunk.
			if isRateLimited(genErr) && !streamed {
				return retry.RetryableError(genErr)
			}
			return genErr
		}
		if resp == nil || len(resp.Choices) == 0 {
			return errors.New("empty response")
		}
		choice := resp.Choices[0]
		finish := choice.StopReason
		if finish == "" {
			finish = llm.FinishReasonStop
		}
		completion = &llm.Completion{Content: choice.Content, FinishReason: finish}
		return nil
	})
	if err != nil {
		return nil, c.invocationError("generation failed", err)
	}
	return completion, nil
}

func (c *langchainConnector) invocationError(message string, err error) error {
	return core.NewError(
		core.KindProviderInvocation,
		fmt.Sprintf("provider %s: %s: %s", c.name, message, sanitizeProviderError(err)),
		err,
	)
}

func convertMessages(messages []llm.Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, msg := range messages {
		out = append(out, llms.TextParts(mapRole(msg.Role), msg.Content))
	}
	return out
}

func mapRole(role string) llms.ChatMessageType {
	switch role {
	case llm.RoleSystem:
		return llms.ChatMessageTypeSystem
	case llm.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

func isRateLimited(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "too many requests")
}

// sanitizeProviderError keeps the provider's own message but drops anything
// that looks like connection internals.
func sanitizeProviderError(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "request timed out"
	}
	msg := err.Error()
	if len(msg) > 300 {
		msg = msg[:300]
	}
	return msg
}
