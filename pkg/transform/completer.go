package transform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/notewise/notewise/pkg/apperrors"
)

// Message is one chat turn
type Message struct {
	Role    string
	Content string
}

// CompletionRequest is a chat completion request
type CompletionRequest struct {
	Messages    []Message
	Model       string
	Temperature float32
	MaxTokens   int
}

// Completer runs a chat completion
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// OpenAIConfig configures OpenAICompleter
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// OpenAICompleter implements Completer against an OpenAI-compatible API
type OpenAICompleter struct {
	client *openai.Client
}

// NewOpenAICompleter creates a completer. The API key is required.
func NewOpenAICompleter(cfg OpenAIConfig) (*OpenAICompleter, error) {
	if cfg.APIKey == "" {
		return nil, &apperrors.ConfigurationError{Setting: "llm api key", Message: "is required"}
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	}

	return &OpenAICompleter{client: openai.NewClientWithConfig(clientConfig)}, nil
}

// Complete returns the first choice's content
func (c *OpenAICompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("completion rejected with status %d: %w", apiErr.HTTPStatusCode, err)
		}
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", errors.New("completion returned no content")
	}
	return resp.Choices[0].Message.Content, nil
}
