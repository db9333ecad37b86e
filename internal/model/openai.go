package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

const (
	DefaultGroqBaseURL   = "https://api.groq.com/openai/v1"
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultTimeout       = 30 * time.Second
)

type OpenAIOption func(*OpenAIProvider)

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint.
// Groq is reached by pointing the base URL at DefaultGroqBaseURL.
type OpenAIProvider struct {
	apiKey     string
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	client     *openai.Client
}

func NewOpenAIProvider(apiKey string, opts ...OpenAIOption) *OpenAIProvider {
	provider := &OpenAIProvider{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: DefaultOpenAIBaseURL,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(provider)
		}
	}

	clientConfig := openai.DefaultConfig(provider.apiKey)
	clientConfig.BaseURL = provider.baseURL
	if provider.httpClient != nil {
		clientConfig.HTTPClient = provider.httpClient
	}
	provider.client = openai.NewClientWithConfig(clientConfig)
	return provider
}

func NewGroqProvider(apiKey string, opts ...OpenAIOption) *OpenAIProvider {
	return NewOpenAIProvider(apiKey, append([]OpenAIOption{WithOpenAIBaseURL(DefaultGroqBaseURL)}, opts...)...)
}

func WithOpenAIBaseURL(baseURL string) OpenAIOption {
	return func(p *OpenAIProvider) {
		if trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/"); trimmed != "" {
			p.baseURL = trimmed
		}
	}
}

func WithOpenAIHTTPClient(client *http.Client) OpenAIOption {
	return func(p *OpenAIProvider) {
		if client != nil {
			p.httpClient = client
		}
	}
}

func WithOpenAITimeout(timeout time.Duration) OpenAIOption {
	return func(p *OpenAIProvider) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

var _ Provider = (*OpenAIProvider)(nil)

// Complete returns an empty Content without error when the API answers with
// a blank message or no choices at all; callers decide how to present that.
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	if p.apiKey == "" {
		return CompletionResponse{}, errors.New("completion api key is required")
	}
	if strings.TrimSpace(req.Model) == "" {
		return CompletionResponse{}, errors.New("model is required")
	}
	if req.MaxTokens <= 0 {
		return CompletionResponse{}, errors.New("max tokens must be greater than zero")
	}

	messages, err := buildOpenAIMessages(req.Messages)
	if err != nil {
		return CompletionResponse{}, err
	}
	if len(messages) == 0 {
		return CompletionResponse{}, errors.New("at least one message is required")
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		return CompletionResponse{}, wrapOpenAIError(err)
	}
	modelName := resp.Model
	if modelName == "" {
		modelName = req.Model
	}
	out := CompletionResponse{
		Usage: Usage{
			InputTokens:  int64(resp.Usage.PromptTokens),
			OutputTokens: int64(resp.Usage.CompletionTokens),
		},
		Model: modelName,
	}
	if len(resp.Choices) == 0 {
		return out, nil
	}

	choice := resp.Choices[0]
	out.Content = choice.Message.Content
	out.StopReason = string(choice.FinishReason)
	return out, nil
}

func buildOpenAIMessages(messages []Message) ([]openai.ChatCompletionMessage, error) {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, message := range messages {
		role := strings.ToLower(strings.TrimSpace(string(message.Role)))
		switch Role(role) {
		case RoleSystem:
			role = openai.ChatMessageRoleSystem
		case RoleUser:
			role = openai.ChatMessageRoleUser
		case RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		default:
			return nil, fmt.Errorf("unsupported message role: %s", message.Role)
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: message.Content})
	}
	return out, nil
}

func wrapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("completion api rate limited: %w", err)
		}
		return fmt.Errorf("completion api status %d: %w", apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("completion api status %d: %w", reqErr.HTTPStatusCode, err)
	}
	return fmt.Errorf("call completion api: %w", err)
}
