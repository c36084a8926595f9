// Package geminiprovider adapts Google's Gemini streaming API to the
// llmclient.LLMClient interface.
package geminiprovider

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"myagent/pkg/llmclient"
)

// Client wraps a genai client as an llmclient.LLMClient.
type Client struct {
	client *genai.Client
	model  string
}

// New builds a Gemini-backed client against the public Gemini API.
func New(ctx context.Context, apiKey, model string) (*Client, error) {
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Client{client: c, model: model}, nil
}

// StreamMessage translates the conversation history into genai Content and
// streams the response, synthesizing a single text content block (index 0)
// since the Gemini stream does not expose Anthropic-style block indices.
func (c *Client) StreamMessage(ctx context.Context, req llmclient.CreateMessageRequest) (<-chan llmclient.StreamEvent, error) {
	out := make(chan llmclient.StreamEvent, 64)

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		var text string
		for _, part := range m.Content {
			if part.Type == "text" {
				text += part.Text
			}
		}
		var role genai.Role = genai.RoleUser
		if m.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(text, role))
	}

	var cfg *genai.GenerateContentConfig
	if req.System != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(req.System, genai.RoleUser),
		}
	}

	go func() {
		defer close(out)
		textOpen := false
		stream := c.client.Models.GenerateContentStream(ctx, c.model, contents, cfg)
		for chunk, err := range stream {
			if err != nil {
				break
			}
			if len(chunk.Candidates) == 0 || chunk.Candidates[0].Content == nil {
				continue
			}
			for _, part := range chunk.Candidates[0].Content.Parts {
				if part.Text == "" {
					continue
				}
				if !textOpen {
					out <- llmclient.StreamEvent{Kind: llmclient.StreamContentBlockStart, Index: 0, Block: llmclient.StreamBlock{Type: "text"}}
					textOpen = true
				}
				out <- llmclient.StreamEvent{Kind: llmclient.StreamTextDelta, Index: 0, Text: part.Text}
			}
		}
		if textOpen {
			out <- llmclient.StreamEvent{Kind: llmclient.StreamContentBlockStop, Index: 0}
		}
		out <- llmclient.StreamEvent{Kind: llmclient.StreamMessageDelta, StopReason: "end_turn"}
		out <- llmclient.StreamEvent{Kind: llmclient.StreamMessageStop}
	}()

	return out, nil
}

func (c *Client) IsTransientError(err error) bool {
	return err != nil
}
