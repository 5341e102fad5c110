package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	openaiClient "github.com/sashabaranov/go-openai"
)

// OpenAIClient talks to the OpenAI Chat Completions API, or any
// compatible endpoint when a base URL is given.
type OpenAIClient struct {
	client    *openaiClient.Client
	model     string
	maxTokens int
	logger    *slog.Logger
}

// NewOpenAIClient creates an OpenAI provider for the given model.
// baseURL may be empty for the default endpoint.
func NewOpenAIClient(apiKey, baseURL, model string, maxTokens int, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := openaiClient.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{
		client:    openaiClient.NewClientWithConfig(cfg),
		model:     model,
		maxTokens: maxTokens,
		logger:    logger.With("provider", "openai"),
	}
}

// Chat performs one blocking chat-completion round trip.
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message, tools []Tool) (*ChatResponse, error) {
	req := openaiClient.ChatCompletionRequest{
		Model:    c.model,
		Messages: messagesToOpenAI(messages),
		Tools:    toolsToOpenAI(tools),
	}
	if c.maxTokens > 0 {
		req.MaxTokens = c.maxTokens
	}

	c.logger.Debug("sending request", "messages", len(req.Messages), "tools", len(req.Tools))

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai chat completion: empty choices")
	}

	choice := resp.Choices[0]
	out := &ChatResponse{
		Content:      choice.Message.Content,
		Model:        resp.Model,
		StopReason:   string(choice.FinishReason),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	for _, call := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: json.RawMessage(call.Function.Arguments),
		})
	}

	c.logger.Debug("response",
		"finish_reason", out.StopReason,
		"tool_calls", len(out.ToolCalls))

	return out, nil
}

func messagesToOpenAI(messages []Message) []openaiClient.ChatCompletionMessage {
	result := make([]openaiClient.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openaiClient.ChatCompletionMessage{Content: m.Content}

		switch m.Role {
		case RoleSystem:
			msg.Role = openaiClient.ChatMessageRoleSystem
		case RoleAssistant:
			msg.Role = openaiClient.ChatMessageRoleAssistant
			for _, call := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openaiClient.ToolCall{
					ID:   call.ID,
					Type: openaiClient.ToolTypeFunction,
					Function: openaiClient.FunctionCall{
						Name:      call.Name,
						Arguments: string(call.Arguments),
					},
				})
			}
		case RoleTool:
			msg.Role = openaiClient.ChatMessageRoleTool
			msg.ToolCallID = m.ToolCallID
		default:
			msg.Role = openaiClient.ChatMessageRoleUser
		}

		result = append(result, msg)
	}
	return result
}

func toolsToOpenAI(tools []Tool) []openaiClient.Tool {
	result := make([]openaiClient.Tool, 0, len(tools))
	for _, tool := range tools {
		var params any
		if len(tool.InputSchema) > 0 {
			params = json.RawMessage(tool.InputSchema)
		}
		result = append(result, openaiClient.Tool{
			Type: openaiClient.ToolTypeFunction,
			Function: &openaiClient.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}
	return result
}
