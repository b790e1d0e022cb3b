package config

import "time"

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
)

type AIConfig struct {
	Provider string        `yaml:"provider"`
	Timeout  time.Duration `yaml:"timeout"`

	OpenAIKey     string   `yaml:"openaiKey"`
	OpenAIBaseURL string   `yaml:"openaiBaseUrl"`
	OpenAIModels  []string `yaml:"openaiModels"`

	GeminiKey    string   `yaml:"geminiKey"`
	GeminiModels []string `yaml:"geminiModels"`

	OllamaEndpoint string   `yaml:"ollamaEndpoint"`
	OllamaModels   []string `yaml:"ollamaModels"`
}

func defaultAI() AIConfig {
	return AIConfig{
		Provider:       ProviderOpenAI,
		Timeout:        120 * time.Second,
		OpenAIModels:   []string{"gpt-4o-mini", "gpt-4o"},
		GeminiModels:   []string{"gemini-1.5-flash", "gemini-1.5-pro"},
		OllamaEndpoint: "http://localhost:11434",
		OllamaModels:   []string{"llava"},
	}
}

func (c *AIConfig) applyEnv() {
	c.Provider = getEnv("AI_PROVIDER", c.Provider)
	c.Timeout = getEnvDuration("AI_TIMEOUT", c.Timeout)
	c.OpenAIKey = getEnv("OPENAI_API_KEY", c.OpenAIKey)
	c.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.OpenAIModels = getEnvList("OPENAI_MODELS", c.OpenAIModels)
	c.GeminiKey = getEnv("GEMINI_API_KEY", c.GeminiKey)
	c.GeminiModels = getEnvList("GEMINI_MODELS", c.GeminiModels)
	c.OllamaEndpoint = getEnv("OLLAMA_ENDPOINT", c.OllamaEndpoint)
	c.OllamaModels = getEnvList("OLLAMA_MODELS", c.OllamaModels)
}
