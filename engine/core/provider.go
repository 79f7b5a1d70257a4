package core

// ProviderName identifies a model-provider connector.
type ProviderName string

const (
	ProviderOpenAI    ProviderName = "openai"
	ProviderAnthropic ProviderName = "anthropic"
	ProviderGroq      ProviderName = "groq"
	ProviderOllama    ProviderName = "ollama"
	ProviderMock      ProviderName = "mock" // deterministic provider for testing
)

// KnownProviders lists every provider name a tenant configuration may carry.
func KnownProviders() []ProviderName {
	return []ProviderName{
		ProviderOpenAI,
		ProviderAnthropic,
		ProviderGroq,
		ProviderOllama,
		ProviderMock,
	}
}
