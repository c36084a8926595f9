// Package ollamaprovider adapts Ollama's chat-streaming API to the
// llmclient.LLMClient interface, translating each callback invocation into
// the same StreamEvent vocabulary the Anthropic client emits so the agent
// loop can remain backend-agnostic.
package ollamaprovider

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/ollama/ollama/api"

	"myagent/pkg/llmclient"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client wraps an Ollama API client as an llmclient.LLMClient.
type Client struct {
	client  *api.Client
	model   string
	options map[string]any
}

// New builds an Ollama-backed client. If baseURL is empty, the client is
// constructed from environment variables (OLLAMA_HOST).
func New(model, baseURL string, options map[string]any) (*Client, error) {
	var (
		c   *api.Client
		err error
	)
	if baseURL != "" {
		u, parseErr := url.Parse(baseURL)
		if parseErr != nil {
			return nil, fmt.Errorf("invalid ollama base url: %w", parseErr)
		}
		httpClient := &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
				ForceAttemptHTTP2:     true,
				MaxIdleConns:          100,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: time.Second,
			},
		}
		c = api.NewClient(u, httpClient)
	} else {
		c, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("ollama client from environment: %w", err)
		}
	}
	return &Client{client: c, model: model, options: options}, nil
}

// StreamMessage issues a chat completion and translates each chunk into
// StreamEvent values with synthetic content-block indices, since Ollama's own
// wire format has no block-index concept: text goes on index 0 and the i-th
// tool call of a chunk on index i+1.
func (c *Client) StreamMessage(ctx context.Context, req llmclient.CreateMessageRequest) (<-chan llmclient.StreamEvent, error) {
	out := make(chan llmclient.StreamEvent, 64)

	apiMessages := convertMessages(req.Messages)
	var tools []api.Tool
	if len(req.Tools) > 0 {
		raw, err := json.Marshal(req.Tools)
		if err == nil {
			_ = json.Unmarshal(raw, &tools)
		}
	}

	streamVal := true
	apiReq := &api.ChatRequest{
		Model:    c.model,
		Messages: apiMessages,
		Options:  c.options,
		Tools:    tools,
		Stream:   &streamVal,
	}

	go func() {
		defer close(out)
		textOpen := false
		err := c.client.Chat(ctx, apiReq, func(resp api.ChatResponse) error {
			if resp.Message.Content != "" {
				if !textOpen {
					out <- llmclient.StreamEvent{Kind: llmclient.StreamContentBlockStart, Index: 0, Block: llmclient.StreamBlock{Type: "text"}}
					textOpen = true
				}
				out <- llmclient.StreamEvent{Kind: llmclient.StreamTextDelta, Index: 0, Text: resp.Message.Content}
			}
			for i, tc := range resp.Message.ToolCalls {
				argsB, _ := json.Marshal(tc.Function.Arguments)
				var input interface{}
				_ = json.Unmarshal(argsB, &input)
				index := i + 1
				out <- llmclient.StreamEvent{
					Kind:  llmclient.StreamContentBlockStart,
					Index: index,
					Block: llmclient.StreamBlock{Type: "tool_use", ID: tc.ID, Name: tc.Function.Name, Input: input},
				}
				out <- llmclient.StreamEvent{Kind: llmclient.StreamContentBlockStop, Index: index}
			}
			if resp.Done {
				if textOpen {
					out <- llmclient.StreamEvent{Kind: llmclient.StreamContentBlockStop, Index: 0}
				}
				stopReason := "end_turn"
				if len(resp.Message.ToolCalls) > 0 {
					stopReason = "tool_use"
				}
				out <- llmclient.StreamEvent{Kind: llmclient.StreamMessageDelta, StopReason: stopReason}
				out <- llmclient.StreamEvent{Kind: llmclient.StreamMessageStop}
			}
			return nil
		})
		if err != nil {
			// A transport-level failure after the stream already started:
			// still terminate with a message_stop so the agent loop's drain
			// returns instead of hanging.
			out <- llmclient.StreamEvent{Kind: llmclient.StreamMessageStop}
		}
	}()

	return out, nil
}

func (c *Client) IsTransientError(err error) bool {
	return err != nil
}

func convertMessages(messages []llmclient.Message) []api.Message {
	out := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		var text string
		for _, part := range m.Content {
			if part.Type == "text" {
				text += part.Text
			}
		}
		out = append(out, api.Message{Role: m.Role, Content: text})
	}
	return out
}
