package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	anthropicSDK "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicDefaultMaxTokens = 4096

// AnthropicClient talks to the Anthropic Messages API.
type AnthropicClient struct {
	client    anthropicSDK.Client
	model     string
	maxTokens int
	logger    *slog.Logger
}

// NewAnthropicClient creates an Anthropic provider for the given model.
func NewAnthropicClient(apiKey, model string, maxTokens int, logger *slog.Logger) *AnthropicClient {
	if logger == nil {
		logger = slog.Default()
	}
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	return &AnthropicClient{
		client:    anthropicSDK.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: maxTokens,
		logger:    logger.With("provider", "anthropic"),
	}
}

// Chat performs one blocking Messages round trip.
func (c *AnthropicClient) Chat(ctx context.Context, messages []Message, tools []Tool) (*ChatResponse, error) {
	system, converted := messagesToAnthropic(messages)

	params := anthropicSDK.MessageNewParams{
		Model:     anthropicSDK.Model(c.model),
		MaxTokens: int64(c.maxTokens),
		Messages:  converted,
		Tools:     toolsToAnthropic(tools),
	}
	if system != "" {
		params.System = []anthropicSDK.TextBlockParam{{Text: system}}
	}

	c.logger.Debug("sending request", "messages", len(converted), "tools", len(tools))

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages: %w", err)
	}

	resp := &ChatResponse{
		Model:        string(msg.Model),
		StopReason:   string(msg.StopReason),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Content += block.Text
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: json.RawMessage(block.Input),
			})
		}
	}

	c.logger.Debug("response",
		"stop_reason", resp.StopReason,
		"tool_calls", len(resp.ToolCalls),
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens)

	return resp, nil
}

// messagesToAnthropic converts neutral messages to the Anthropic wire
// shape, extracting system text. Tool results become user-role
// tool_result blocks, as the Messages API requires.
func messagesToAnthropic(messages []Message) (string, []anthropicSDK.MessageParam) {
	system := ""
	out := make([]anthropicSDK.MessageParam, 0, len(messages))

	var blocks []anthropicSDK.ContentBlockParamUnion
	var role anthropicSDK.MessageParamRole

	flush := func() {
		if len(blocks) > 0 {
			out = append(out, anthropicSDK.MessageParam{Role: role, Content: blocks})
			blocks = nil
		}
	}

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system += m.Content
			continue

		case RoleAssistant:
			if role != anthropicSDK.MessageParamRoleAssistant {
				flush()
				role = anthropicSDK.MessageParamRoleAssistant
			}
			if m.Content != "" {
				blocks = append(blocks, anthropicSDK.NewTextBlock(m.Content))
			}
			for _, call := range m.ToolCalls {
				blocks = append(blocks, anthropicSDK.ContentBlockParamOfRequestToolUseBlock(
					call.ID,
					call.Arguments,
					call.Name,
				))
			}

		case RoleTool:
			if role != anthropicSDK.MessageParamRoleUser {
				flush()
				role = anthropicSDK.MessageParamRoleUser
			}
			blocks = append(blocks, anthropicSDK.NewToolResultBlock(m.ToolCallID, m.Content, m.IsError))

		default: // RoleUser
			if role != anthropicSDK.MessageParamRoleUser {
				flush()
				role = anthropicSDK.MessageParamRoleUser
			}
			if m.Content != "" {
				blocks = append(blocks, anthropicSDK.NewTextBlock(m.Content))
			}
		}
	}

	flush()
	return system, out
}

func toolsToAnthropic(tools []Tool) []anthropicSDK.ToolUnionParam {
	converted := make([]anthropicSDK.ToolUnionParam, len(tools))
	for i, tool := range tools {
		var schema struct {
			Properties json.RawMessage `json:"properties"`
		}
		if len(tool.InputSchema) > 0 {
			// Best effort: a schema that fails to parse produces a
			// tool with no declared properties rather than an API error.
			_ = json.Unmarshal(tool.InputSchema, &schema)
		}
		var props any
		if len(schema.Properties) > 0 {
			props = schema.Properties
		}
		converted[i] = anthropicSDK.ToolUnionParam{
			OfTool: &anthropicSDK.ToolParam{
				Name:        tool.Name,
				Description: anthropicSDK.String(tool.Description),
				InputSchema: anthropicSDK.ToolInputSchemaParam{Properties: props},
			},
		}
	}
	return converted
}
