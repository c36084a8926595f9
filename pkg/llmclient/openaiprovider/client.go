// Package openaiprovider adapts the OpenAI chat-completions streaming API
// to the llmclient.LLMClient interface.
package openaiprovider

import (
	"context"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"myagent/pkg/llmclient"
)

// Client wraps an openai-go client as an llmclient.LLMClient.
type Client struct {
	client openai.Client
	model  string
}

// New builds an OpenAI-compatible client. baseURL may point at a
// third-party OpenAI-compatible endpoint.
func New(apiKey, baseURL, model string) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Client{client: openai.NewClient(opts...), model: model}
}

// StreamMessage translates the conversation history into openai-go's
// message types and streams chat completion chunks, synthesizing a single
// text content block (index 0) and one tool_use block per distinct
// tool_call index the API reports.
func (c *Client) StreamMessage(ctx context.Context, req llmclient.CreateMessageRequest) (<-chan llmclient.StreamEvent, error) {
	out := make(chan llmclient.StreamEvent, 64)

	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: convertMessages(req),
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)

	go func() {
		defer close(out)
		defer stream.Close()

		textOpen := false
		openToolCalls := map[int64]bool{}

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta

			if delta.Content != "" {
				if !textOpen {
					out <- llmclient.StreamEvent{Kind: llmclient.StreamContentBlockStart, Index: 0, Block: llmclient.StreamBlock{Type: "text"}}
					textOpen = true
				}
				out <- llmclient.StreamEvent{Kind: llmclient.StreamTextDelta, Index: 0, Text: delta.Content}
			}

			for _, tc := range delta.ToolCalls {
				idx := tc.Index + 1 // index 0 reserved for the text block
				if !openToolCalls[idx] {
					openToolCalls[idx] = true
					out <- llmclient.StreamEvent{
						Kind:  llmclient.StreamContentBlockStart,
						Index: int(idx),
						Block: llmclient.StreamBlock{Type: "tool_use", ID: tc.ID, Name: tc.Function.Name},
					}
				}
				if tc.Function.Arguments != "" {
					out <- llmclient.StreamEvent{Kind: llmclient.StreamInputJSONDelta, Index: int(idx), PartialJSON: tc.Function.Arguments}
				}
			}

			if chunk.Choices[0].FinishReason != "" {
				if textOpen {
					out <- llmclient.StreamEvent{Kind: llmclient.StreamContentBlockStop, Index: 0}
				}
				for idx := range openToolCalls {
					out <- llmclient.StreamEvent{Kind: llmclient.StreamContentBlockStop, Index: int(idx)}
				}
				stopReason := "end_turn"
				if chunk.Choices[0].FinishReason == "tool_calls" {
					stopReason = "tool_use"
				}
				out <- llmclient.StreamEvent{Kind: llmclient.StreamMessageDelta, StopReason: stopReason}
			}
		}
		out <- llmclient.StreamEvent{Kind: llmclient.StreamMessageStop}
	}()

	return out, nil
}

func (c *Client) IsTransientError(err error) bool {
	return err != nil
}

func convertMessages(req llmclient.CreateMessageRequest) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		var text string
		for _, part := range m.Content {
			if part.Type == "text" {
				text += part.Text
			}
		}
		switch m.Role {
		case "assistant":
			out = append(out, openai.AssistantMessage(text))
		default:
			out = append(out, openai.UserMessage(text))
		}
	}
	return out
}
