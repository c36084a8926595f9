package llmclient

import (
	"context"
	"fmt"
	"log/slog"
)

// FallbackClient tries each backend in order, advancing to the next only
// when the previous one reports a transient error.
type FallbackClient struct {
	backends []LLMClient
	names    []string
}

// NewFallbackClient builds a client that tries backends in order. names is
// parallel to backends and used only for logging.
func NewFallbackClient(names []string, backends []LLMClient) *FallbackClient {
	return &FallbackClient{names: names, backends: backends}
}

func (f *FallbackClient) StreamMessage(ctx context.Context, req CreateMessageRequest) (<-chan StreamEvent, error) {
	var lastErr error
	for i, backend := range f.backends {
		ch, err := backend.StreamMessage(ctx, req)
		if err == nil {
			return ch, nil
		}
		lastErr = err
		if !backend.IsTransientError(err) {
			return nil, fmt.Errorf("%s: %w", f.names[i], err)
		}
		slog.Warn("llm backend failed, trying next", "backend", f.names[i], "error", err)
	}
	return nil, fmt.Errorf("all llm backends exhausted: %w", lastErr)
}

func (f *FallbackClient) IsTransientError(err error) bool {
	for _, backend := range f.backends {
		if backend.IsTransientError(err) {
			return true
		}
	}
	return false
}
