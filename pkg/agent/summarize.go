package agent

import (
	"context"
	"log/slog"
	"strings"

	"myagent/pkg/llmclient"
)

const summarizePrompt = "You are a conversation analyst. Given the previous summary and a new " +
	"segment of conversation, produce an updated, concise summary capturing important facts, " +
	"user preferences, and conclusions reached. Output only the updated summary text."

// maybeSummarize folds older turns into the rolling summary carried in the
// system prompt once the conversation grows past
// summarizeThresholdMessages. The history itself is never truncated or
// rewritten; the summary is auxiliary context layered on top of it, and
// summarized tracks how far into the history the summary already reaches so
// each segment is folded in once. On failure nothing is recorded and the
// same segment is retried after the next turn.
func (a *AiAgent) maybeSummarize(ctx context.Context, messages []llmclient.Message) {
	a.mu.Lock()
	done := a.summarized
	a.mu.Unlock()

	if len(messages) <= summarizeThresholdMessages {
		return
	}
	upto := len(messages) - summarizeKeepRecent
	if upto <= done {
		return
	}

	summary, err := a.summarize(ctx, messages[done:upto])
	if err != nil {
		slog.ErrorContext(ctx, "conversation summarization failed", "error", err)
		return
	}

	a.mu.Lock()
	a.summary = summary
	a.summarized = upto
	a.mu.Unlock()
}

func (a *AiAgent) summarize(ctx context.Context, segment []llmclient.Message) (string, error) {
	a.mu.Lock()
	existing := a.summary
	a.mu.Unlock()
	if existing == "" {
		existing = "(no summary yet)"
	}

	var transcript strings.Builder
	for _, m := range segment {
		label := "User"
		if m.Role == "assistant" {
			label = "Assistant"
		}
		for _, part := range m.Content {
			if part.Type == "text" && part.Text != "" {
				transcript.WriteString(label + ": " + strings.TrimSpace(part.Text) + "\n")
			}
		}
	}

	req := llmclient.CreateMessageRequest{
		Model:     a.model,
		MaxTokens: 1024,
		Stream:    true,
		System:    summarizePrompt,
		Messages: []llmclient.Message{
			{
				Role: "user",
				Content: []llmclient.ContentPart{{
					Type: "text",
					Text: "Previous summary:\n" + existing + "\n\nNew segment:\n" + transcript.String() + "\n\nUpdated summary:",
				}},
			},
		},
	}

	stream, err := a.client.StreamMessage(ctx, req)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	for ev := range stream {
		if ev.Kind == llmclient.StreamTextDelta {
			out.WriteString(ev.Text)
		}
	}
	return out.String(), nil
}
