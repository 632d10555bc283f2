package translator

import (
	"context"

	"github.com/aluiziolira/go-book-catalog/config"
	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"
)

// OpenAICompleter talks to any OpenAI-compatible chat-completion endpoint.
type OpenAICompleter struct {
	client openai.Client
	cfg    config.TranslatorConfig
}

// NewOpenAICompleter builds a client for cfg.BaseURL. The client never retries.
func NewOpenAICompleter(cfg config.TranslatorConfig, opts ...option.RequestOption) *OpenAICompleter {
	base := []option.RequestOption{
		option.WithBaseURL(cfg.BaseURL),
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.Timeout > 0 {
		base = append(base, option.WithRequestTimeout(cfg.Timeout))
	}
	return &OpenAICompleter{
		client: openai.NewClient(append(base, opts...)...),
		cfg:    cfg,
	}
}

// Complete sends prompt as a single user message.
func (c *OpenAICompleter) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model:       shared.ChatModel(c.cfg.Model),
		MaxTokens:   openai.Int(int64(c.cfg.MaxTokens)),
		Temperature: openai.Float(c.cfg.Temperature),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}
