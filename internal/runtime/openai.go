// ABOUTME: Upstream completion runtime backed by the OpenAI Chat Completions API
// ABOUTME: Streams one agent turn, feeding token and tool call deltas to the event sink

package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/2389/agency-gateway/internal/agency"
	"github.com/2389/agency-gateway/internal/store"
)

// Client implements agency.Runtime against an OpenAI-compatible endpoint.
// Credentials arrive per turn because each user may bring their own key.
type Client struct {
	logger *slog.Logger
}

// NewClient creates a runtime client.
func NewClient(logger *slog.Logger) *Client {
	return &Client{logger: logger}
}

// StreamTurn runs one blocking streamed completion for an agent turn. It
// blocks until the upstream stream ends, emitting notifications to sink as
// chunks arrive, and returns the responder's full text.
func (c *Client) StreamTurn(ctx context.Context, req agency.TurnRequest, sink agency.EventSink) (string, error) {
	if req.APIKey == "" {
		return "", agency.ErrUpstreamAuth
	}

	opts := []option.RequestOption{option.WithAPIKey(req.APIKey)}
	if req.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(req.BaseURL))
	}
	client := openai.NewClient(opts...)

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: buildMessages(req),
	}

	stream := client.Chat.Completions.NewStreaming(ctx, params)

	var full strings.Builder
	textStarted := false
	startedCalls := make(map[int64]bool)

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta

		if delta.Content != "" {
			if !textStarted {
				sink.TextCreated(req.Agent, req.Recipient)
				textStarted = true
			}
			sink.TextDelta(req.Agent, req.Recipient, delta.Content)
			full.WriteString(delta.Content)
		}

		for _, call := range delta.ToolCalls {
			kind := toolKind(string(call.Type))
			if !startedCalls[call.Index] {
				startedCalls[call.Index] = true
				sink.ToolCallCreated(req.Agent, req.Recipient, kind)
			}
			if call.Function.Arguments != "" {
				sink.ToolCallDelta(req.Agent, req.Recipient, agency.ToolCallDelta{
					Type:  kind,
					Input: call.Function.Arguments,
				})
			}
		}
	}

	if err := stream.Err(); err != nil {
		return "", classifyError(err)
	}

	if textStarted {
		sink.TextDone(req.Agent, req.Recipient, full.String())
	}

	c.logger.Debug("turn complete",
		"thread_id", req.ThreadID,
		"recipient", req.Recipient,
		"chars", full.Len(),
	)
	return full.String(), nil
}

// buildMessages converts the turn request into chat completion messages:
// a system prompt from the agency and agent instructions, the prior
// transcript, then the new message content.
func buildMessages(req agency.TurnRequest) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)

	if system := systemPrompt(req); system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}

	for _, msg := range req.History {
		switch msg.Role {
		case store.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	messages = append(messages, openai.UserMessage(req.Content))
	return messages
}

func systemPrompt(req agency.TurnRequest) string {
	parts := make([]string, 0, 2)
	if req.SharedInstructions != "" {
		parts = append(parts, req.SharedInstructions)
	}
	if req.AgentDef.Instructions != "" {
		parts = append(parts, req.AgentDef.Instructions)
	}
	return strings.Join(parts, "\n\n")
}

// toolKind maps the chunk's tool call type onto the notification taxonomy.
func toolKind(t string) string {
	if t == "" {
		return agency.ToolTypeFunction
	}
	return t
}

// classifyError maps upstream auth failures onto the fatal sentinel so the
// session loop can distinguish them from transient errors.
func classifyError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %v", agency.ErrUpstreamAuth, err)
	}
	return fmt.Errorf("upstream completion: %w", err)
}
