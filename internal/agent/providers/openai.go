package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/conduit/internal/agent"
	"github.com/haasonsaas/conduit/internal/usage"
	"github.com/haasonsaas/conduit/pkg/models"
)

// OpenAIProvider implements agent.LLMProvider for the OpenAI chat completions
// API and compatible endpoints.
type OpenAIProvider struct {
	// client is the underlying OpenAI SDK client used for API calls.
	client *openai.Client

	// defaultModel is used when CompletionRequest.Model is empty.
	defaultModel string
}

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key (required).
	APIKey string

	// BaseURL overrides the API base, e.g. "http://localhost:8000/v1" for a
	// self-hosted compatible server.
	BaseURL string

	// DefaultModel defaults to "gpt-4o".
	DefaultModel string

	HTTPClient *http.Client
}

// NewOpenAIProvider creates an OpenAI provider.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = openai.GPT4o
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: cfg.DefaultModel,
	}, nil
}

// Name returns "openai".
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Complete sends a streaming chat completion request.
//
// Text deltas are forwarded as they arrive. Tool-call fragments are passed
// through keyed by the stream index OpenAI assigns each parallel call; the
// orchestrator assembles them. Usage arrives on a trailing chunk with no
// choices and is sent after the finish reason.
func (p *OpenAIProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := p.getModel(req.Model)

	chatReq := openai.ChatCompletionRequest{
		Model:         model,
		Messages:      convertToOpenAIMessages(req.Messages, req.System),
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertToOpenAITools(req.Tools)
		if req.ToolChoice != "" {
			chatReq.ToolChoice = req.ToolChoice
		}
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, p.wrapError(err, model)
	}

	chunks := make(chan *agent.CompletionChunk)
	go p.processStream(ctx, stream, chunks, model)
	return chunks, nil
}

// processStream converts OpenAI stream responses into completion chunks and
// closes chunks when the stream ends.
func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *agent.CompletionChunk, model string) {
	defer close(chunks)
	defer stream.Close()

	var finalUsage *usage.Usage

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			if finalUsage != nil {
				send(ctx, chunks, &agent.CompletionChunk{Usage: finalUsage})
			}
			return
		}
		if err != nil {
			send(ctx, chunks, &agent.CompletionChunk{Error: p.wrapError(err, model)})
			return
		}

		if response.Usage != nil {
			finalUsage = convertOpenAIUsage(response.Usage)
		}
		if len(response.Choices) == 0 {
			continue
		}

		choice := response.Choices[0]
		chunk := &agent.CompletionChunk{
			Text:         choice.Delta.Content,
			FinishReason: convertFinishReason(choice.FinishReason),
		}
		for i, tc := range choice.Delta.ToolCalls {
			index := i
			if tc.Index != nil {
				index = *tc.Index
			}
			chunk.ToolCallDeltas = append(chunk.ToolCallDeltas, agent.ToolCallDelta{
				Index:     index,
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}

		if chunk.Text == "" && len(chunk.ToolCallDeltas) == 0 && chunk.FinishReason == "" {
			continue
		}
		if !send(ctx, chunks, chunk) {
			return
		}
	}
}

func convertOpenAIUsage(u *openai.Usage) *usage.Usage {
	out := &usage.Usage{
		InputTokens:  int64(u.PromptTokens),
		OutputTokens: int64(u.CompletionTokens),
	}
	if u.PromptTokensDetails != nil && u.PromptTokensDetails.CachedTokens > 0 {
		cached := int64(u.PromptTokensDetails.CachedTokens)
		out.CacheReadTokens = cached
		out.InputTokens -= cached
	}
	return out
}

func convertFinishReason(reason openai.FinishReason) agent.FinishReason {
	switch reason {
	case "":
		return ""
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return agent.FinishToolCalls
	case openai.FinishReasonLength:
		return agent.FinishLength
	default:
		return agent.FinishStop
	}
}

// convertToOpenAIMessages converts transcript messages to OpenAI format.
// The system prompt goes first; tool messages keep their tool_call_id.
func convertToOpenAIMessages(messages []models.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		oaiMsg := openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}

		switch msg.Role {
		case models.RoleAssistant:
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				})
			}
		case models.RoleTool:
			oaiMsg.ToolCallID = msg.ToolCallID
		}

		result = append(result, oaiMsg)
	}

	return result
}

// convertToOpenAITools converts tool definitions to OpenAI function tools.
// An unparseable schema degrades to an empty object schema.
func convertToOpenAITools(tools []models.ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, len(tools))

	for i, tool := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(tool.Parameters, &schemaMap); err != nil || schemaMap == nil {
			schemaMap = map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			}
		}

		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schemaMap,
			},
		}
	}

	return result
}

func (p *OpenAIProvider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

// wrapError converts SDK errors into a ProviderError.
func (p *OpenAIProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := GetProviderError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		providerErr := &ProviderError{
			Provider: "openai",
			Model:    model,
			Cause:    err,
			Reason:   ReasonUnknown,
			Message:  apiErr.Message,
		}
		if apiErr.HTTPStatusCode != 0 {
			providerErr = providerErr.WithStatus(apiErr.HTTPStatusCode)
		}
		if code := fmt.Sprint(apiErr.Code); apiErr.Code != nil && code != "" {
			providerErr = providerErr.WithCode(code)
		} else if apiErr.Type != "" {
			providerErr = providerErr.WithCode(apiErr.Type)
		}
		if providerErr.Message == "" {
			providerErr.Message = "openai request failed"
		}
		return providerErr
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		providerErr := NewProviderError("openai", model, err)
		if reqErr.HTTPStatusCode != 0 {
			providerErr = providerErr.WithStatus(reqErr.HTTPStatusCode)
		}
		return providerErr
	}

	return NewProviderError("openai", model, err)
}
