// Package llm adapts model backends to the participant contract.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/thebtf/roundtable/pkg/models"
)

// ChatClient is the subset of the go-openai client the adapter uses.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// NewClient builds an OpenAI-compatible client. An empty baseURL keeps the
// library default.
func NewClient(apiKey, baseURL string, timeout time.Duration) *openai.Client {
	if apiKey == "" {
		apiKey = "sk-xxx"
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if timeout <= 0 {
		timeout = 150 * time.Second
	}
	config.HTTPClient = &http.Client{Timeout: timeout}
	return openai.NewClientWithConfig(config)
}

// OpenAI is a Backend over any OpenAI-compatible chat completion endpoint.
type OpenAI struct {
	client       ChatClient
	defaultModel string

	// newClient builds clients for definitions that name their own base URL.
	newClient func(baseURL string) ChatClient
	mu        sync.Mutex
	byURL     map[string]ChatClient
}

// OpenAIOption configures an OpenAI backend.
type OpenAIOption func(*OpenAI)

// WithEndpointClients lets definitions with a base_url talk to their own endpoint.
// Clients are built once per URL.
func WithEndpointClients(newClient func(baseURL string) ChatClient) OpenAIOption {
	return func(o *OpenAI) { o.newClient = newClient }
}

// NewOpenAI wraps client. defaultModel is used when a definition names none.
func NewOpenAI(client ChatClient, defaultModel string, opts ...OpenAIOption) *OpenAI {
	o := &OpenAI{client: client, defaultModel: defaultModel, byURL: make(map[string]ChatClient)}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// clientFor returns the client serving cfg.BaseURL, or the default client.
func (o *OpenAI) clientFor(cfg models.ModelConfig) ChatClient {
	if cfg.BaseURL == "" || o.newClient == nil {
		return o.client
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	c, ok := o.byURL[cfg.BaseURL]
	if !ok {
		c = o.newClient(cfg.BaseURL)
		o.byURL[cfg.BaseURL] = c
	}
	return c
}

// Respond sends the definition's system message plus the transcript and returns the reply text.
func (o *OpenAI) Respond(ctx context.Context, def *models.AgentDefinition, transcript []models.Turn) (string, error) {
	if timeout := def.ModelConfig.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := o.clientFor(def.ModelConfig).CreateChatCompletion(ctx, o.buildRequest(def, transcript))
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion", ErrBackend)
	}
	return resp.Choices[0].Message.Content, nil
}

// Complete sends a single system+user exchange. Used by the coordinator.
func (o *OpenAI) Complete(ctx context.Context, cfg models.ModelConfig, system, user string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: o.model(cfg),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	}
	applyModelConfig(&req, cfg)

	resp, err := o.clientFor(cfg).CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion", ErrBackend)
	}
	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAI) model(cfg models.ModelConfig) string {
	if cfg.Model != "" {
		return cfg.Model
	}
	return o.defaultModel
}

// buildRequest maps the agent's own turns to assistant messages and everyone
// else's to user messages prefixed with the speaker name.
func (o *OpenAI) buildRequest(def *models.AgentDefinition, transcript []models.Turn) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(transcript)+1)
	if def.SystemMessage != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: def.SystemMessage,
		})
	}
	for _, turn := range transcript {
		if strings.EqualFold(turn.Speaker, def.Name) && !turn.IsError() {
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: turn.Content,
			})
			continue
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: turn.Speaker + ": " + turn.Content,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:    o.model(def.ModelConfig),
		Messages: messages,
	}
	applyModelConfig(&req, def.ModelConfig)
	return req
}

func applyModelConfig(req *openai.ChatCompletionRequest, cfg models.ModelConfig) {
	if cfg.Temperature != nil {
		req.Temperature = float32(*cfg.Temperature)
	}
	if cfg.Seed != nil {
		seed := *cfg.Seed
		req.Seed = &seed
	}
	if cfg.MaxTokens > 0 {
		req.MaxTokens = cfg.MaxTokens
	}
}

// classifyOpenAIError wraps err with the matching failure sentinel.
func classifyOpenAIError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return fmt.Errorf("%w: %w", ErrUnreachable, err)
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %w", ErrBackend, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}

	return fmt.Errorf("%w: %w", ErrBackend, err)
}
