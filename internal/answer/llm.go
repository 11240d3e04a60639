package answer

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// DefaultModel is the chat model used when none is configured.
const DefaultModel = "gpt-4.1-mini"

// OpenAIConfig configures an OpenAI-compatible chat endpoint.
type OpenAIConfig struct {
	// BaseURL is empty for api.openai.com.
	BaseURL     string
	Model       string
	Token       string
	Temperature float64
}

// ChatLLM adapts a langchaingo model to LLM.
type ChatLLM struct {
	model       llms.Model
	temperature float64
}

var _ LLM = (*ChatLLM)(nil)

// NewChatLLM wraps an existing langchaingo model.
func NewChatLLM(model llms.Model, temperature float64) *ChatLLM {
	return &ChatLLM{model: model, temperature: temperature}
}

// NewOpenAILLM creates a langchaingo OpenAI client.
func NewOpenAILLM(cfg OpenAIConfig) (*ChatLLM, error) {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	token := cfg.Token
	if token == "" {
		token = "none"
	}

	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithModel(model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("openai llm: %w", err)
	}
	return NewChatLLM(client, cfg.Temperature), nil
}

// Generate sends prompt as a single user message. No choices yields "".
func (c *ChatLLM) Generate(ctx context.Context, prompt string) (string, error) {
	content := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(prompt)},
		},
	}
	resp, err := c.model.GenerateContent(ctx, content, llms.WithTemperature(c.temperature))
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Content, nil
}
