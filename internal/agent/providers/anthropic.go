package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/haasonsaas/conduit/internal/agent"
	"github.com/haasonsaas/conduit/internal/usage"
	"github.com/haasonsaas/conduit/pkg/models"
)

// AnthropicProvider implements agent.LLMProvider for the Anthropic Messages API.
type AnthropicProvider struct {
	// client is the underlying Anthropic SDK client used for API calls.
	client anthropic.Client

	// defaultModel is used when CompletionRequest.Model is empty.
	defaultModel string
}

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	// APIKey is the Anthropic API authentication key (required).
	APIKey string

	// BaseURL overrides the default Anthropic API base URL.
	BaseURL string

	// DefaultModel defaults to "claude-sonnet-4-20250514".
	DefaultModel string

	HTTPClient *http.Client
}

// NewAnthropicProvider creates an Anthropic provider. SDK-level retries are
// disabled; the orchestrator owns retry policy.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "claude-sonnet-4-20250514"
	}

	options := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}
	if config.HTTPClient != nil {
		options = append(options, option.WithHTTPClient(config.HTTPClient))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(options...),
		defaultModel: config.DefaultModel,
	}, nil
}

// Name returns "anthropic".
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Complete streams a Messages API response.
//
// Tool calls arrive as tool_use content blocks: the block start carries the
// ID and name, input_json_delta events carry argument fragments. Both are
// forwarded as ToolCallDeltas keyed by the content block index.
func (p *AnthropicProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := p.getModel(req.Model)
	params, err := p.buildParams(req, model)
	if err != nil {
		return nil, err
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	chunks := make(chan *agent.CompletionChunk)
	go p.processStream(ctx, stream, chunks, model)
	return chunks, nil
}

func (p *AnthropicProvider) buildParams(req *agent.CompletionRequest, model string) (anthropic.MessageNewParams, error) {
	messages, extraSystem, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(getMaxTokens(req.MaxTokens)),
	}

	// Anthropic takes the system prompt outside the message list.
	system := strings.TrimSpace(strings.Join(append([]string{req.System}, extraSystem...), "\n\n"))
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = tools

		switch req.ToolChoice {
		case "required":
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
		case "none":
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
		}
	}

	return params, nil
}

// maxEmptyStreamEvents is the number of consecutive events with no usable
// content after which the stream is treated as malformed.
const maxEmptyStreamEvents = 300

// processStream converts SSE events into completion chunks and closes chunks
// when the stream ends.
func (p *AnthropicProvider) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *agent.CompletionChunk, model string) {
	defer close(chunks)
	defer stream.Close()

	var u usage.Usage
	var finish agent.FinishReason
	emptyEventCount := 0

	for stream.Next() {
		event := stream.Current()
		var chunk *agent.CompletionChunk

		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			u.InputTokens = start.Message.Usage.InputTokens
			u.CacheReadTokens = start.Message.Usage.CacheReadInputTokens
			u.CacheWriteTokens = start.Message.Usage.CacheCreationInputTokens
			emptyEventCount = 0
			continue

		case "content_block_start":
			start := event.AsContentBlockStart()
			if start.ContentBlock.Type == "tool_use" {
				toolUse := start.ContentBlock.AsToolUse()
				chunk = &agent.CompletionChunk{ToolCallDeltas: []agent.ToolCallDelta{{
					Index: int(start.Index),
					ID:    toolUse.ID,
					Name:  toolUse.Name,
				}}}
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta()
			switch delta.Delta.Type {
			case "text_delta":
				if delta.Delta.Text != "" {
					chunk = &agent.CompletionChunk{Text: delta.Delta.Text}
				}
			case "input_json_delta":
				if delta.Delta.PartialJSON != "" {
					chunk = &agent.CompletionChunk{ToolCallDeltas: []agent.ToolCallDelta{{
						Index:     int(delta.Index),
						Arguments: delta.Delta.PartialJSON,
					}}}
				}
			}

		case "message_delta":
			md := event.AsMessageDelta()
			if md.Usage.OutputTokens > 0 {
				u.OutputTokens = md.Usage.OutputTokens
			}
			finish = convertStopReason(string(md.Delta.StopReason))
			emptyEventCount = 0
			continue

		case "message_stop":
			if finish == "" {
				finish = agent.FinishStop
			}
			final := &agent.CompletionChunk{FinishReason: finish}
			if !u.IsZero() {
				final.Usage = &u
			}
			send(ctx, chunks, final)
			return
		}

		if chunk == nil {
			emptyEventCount++
			if emptyEventCount >= maxEmptyStreamEvents {
				send(ctx, chunks, &agent.CompletionChunk{
					Error: NewProviderError("anthropic", model,
						fmt.Errorf("stream appears malformed: received %d consecutive empty events", emptyEventCount)),
				})
				return
			}
			continue
		}
		emptyEventCount = 0
		if !send(ctx, chunks, chunk) {
			return
		}
	}

	if err := stream.Err(); err != nil {
		send(ctx, chunks, &agent.CompletionChunk{Error: p.wrapError(err, model)})
		return
	}
	// A stream that ends without message_stop was cut off.
	send(ctx, chunks, &agent.CompletionChunk{
		Error: NewProviderError("anthropic", model, errors.New("stream ended before message_stop: unexpected eof")),
	})
}

func convertStopReason(reason string) agent.FinishReason {
	switch reason {
	case "":
		return ""
	case "tool_use":
		return agent.FinishToolCalls
	case "max_tokens":
		return agent.FinishLength
	default:
		return agent.FinishStop
	}
}

// convertAnthropicMessages converts transcript messages to Anthropic format.
// System messages are returned separately. Consecutive tool messages are
// merged into a single user turn of tool_result blocks.
func convertAnthropicMessages(messages []models.Message) ([]anthropic.MessageParam, []string, error) {
	var result []anthropic.MessageParam
	var system []string
	var pendingResults []anthropic.ContentBlockParamUnion

	flushResults := func() {
		if len(pendingResults) > 0 {
			result = append(result, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			if msg.Content != "" {
				system = append(system, msg.Content)
			}

		case models.RoleTool:
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(
				msg.ToolCallID,
				msg.Content,
				isErrorContent(msg.Content),
			))

		case models.RoleAssistant:
			flushResults()
			var content []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input map[string]any
				if len(tc.Input) > 0 {
					if err := json.Unmarshal(tc.Input, &input); err != nil {
						return nil, nil, fmt.Errorf("invalid tool call input for %s: %w", tc.Name, err)
					}
				}
				if input == nil {
					input = map[string]any{}
				}
				content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(content) == 0 {
				continue
			}
			result = append(result, anthropic.NewAssistantMessage(content...))

		default:
			flushResults()
			if msg.Content == "" {
				continue
			}
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	flushResults()

	return result, system, nil
}

// isErrorContent reports whether a tool message carries a structured failure.
func isErrorContent(content string) bool {
	var payload struct {
		Error json.RawMessage `json:"error"`
	}
	if !strings.HasPrefix(strings.TrimSpace(content), "{") {
		return false
	}
	return json.Unmarshal([]byte(content), &payload) == nil && len(payload.Error) > 0
}

// convertAnthropicTools converts tool definitions to Anthropic tool params.
func convertAnthropicTools(tools []models.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))

	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		raw := tool.Parameters
		if len(raw) == 0 {
			raw = json.RawMessage(`{"type":"object"}`)
		}
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}

		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
		}
		if tool.Description != "" {
			toolParam.OfTool.Description = anthropic.String(tool.Description)
		}

		result = append(result, toolParam)
	}

	return result, nil
}

func (p *AnthropicProvider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func getMaxTokens(maxTokens int) int {
	if maxTokens <= 0 {
		return 4096
	}
	return maxTokens
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

// wrapError converts SDK errors into a ProviderError.
func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := GetProviderError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		providerErr := &ProviderError{
			Provider: "anthropic",
			Model:    model,
			Cause:    err,
			Reason:   ReasonUnknown,
		}
		providerErr = providerErr.WithStatus(apiErr.StatusCode)

		requestID := apiErr.RequestID
		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil {
				if payload.Error.Message != "" {
					providerErr = providerErr.WithMessage(payload.Error.Message)
				}
				if payload.Error.Type != "" {
					providerErr = providerErr.WithCode(payload.Error.Type)
				}
				if payload.RequestID != "" {
					requestID = payload.RequestID
				}
			}
		}
		if providerErr.Message == "" {
			providerErr.Message = "anthropic request failed"
		}
		if requestID != "" {
			providerErr = providerErr.WithRequestID(requestID)
		}
		return providerErr
	}

	return NewProviderError("anthropic", model, err)
}
