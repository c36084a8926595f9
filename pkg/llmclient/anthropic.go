package llmclient

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const anthropicAPIVersion = "2023-06-01"

// AnthropicClient speaks the Anthropic Messages API streaming protocol
// directly: one POST, SSE-framed response, hand-parsed event-by-event.
type AnthropicClient struct {
	http    *http.Client
	apiKey  string
	baseURL string
}

// NewAnthropicClient builds a client against baseURL (e.g.
// "https://api.anthropic.com" for the first-party endpoint, or any
// Messages-API-compatible proxy).
func NewAnthropicClient(apiKey, baseURL string) *AnthropicClient {
	return &AnthropicClient{
		http:    &http.Client{},
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// StreamMessage sends the request and returns a channel that receives each
// parsed StreamEvent in order, closed when the stream ends or errors.
func (c *AnthropicClient) StreamMessage(ctx context.Context, req CreateMessageRequest) (<-chan StreamEvent, error) {
	if req.MaxTokens == 0 {
		req.MaxTokens = DefaultMaxTokens
	}
	req.Stream = true

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrDecode, err)
	}

	url := c.baseURL + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrNetwork, err)
	}
	httpReq.Header.Set("content-type", "application/json")

	// First-party endpoint uses x-api-key + anthropic-version; any other
	// base URL is assumed to speak Bearer-token auth.
	if strings.Contains(c.baseURL, "anthropic.com") {
		httpReq.Header.Set("x-api-key", c.apiKey)
		httpReq.Header.Set("anthropic-version", anthropicAPIVersion)
	} else {
		httpReq.Header.Set("authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, fmt.Errorf("%w: anthropic api error %d: %s", ErrHTTPStatus, resp.StatusCode, string(respBody))
	}

	out := make(chan StreamEvent, 256)
	go c.pump(resp.Body, out)
	return out, nil
}

func (c *AnthropicClient) pump(body io.ReadCloser, out chan<- StreamEvent) {
	defer close(out)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var eventType, data string
	flush := func() bool {
		if data == "" {
			return true
		}
		evt, ok := parseSSEEvent(eventType, data)
		eventType, data = "", ""
		if !ok {
			return true
		}
		out <- evt
		return evt.Kind != StreamMessageStop
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if !flush() {
				return
			}
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Error("anthropic SSE stream error", "error", err)
	}
}

// parseSSEEvent decodes one SSE event block into a StreamEvent. ok is false
// for event types that should be silently dropped (message_start, ping, or
// anything unrecognized).
func parseSSEEvent(eventType, data string) (StreamEvent, bool) {
	var raw map[string]jsoniter.RawMessage
	if err := json.UnmarshalFromString(data, &raw); err != nil {
		slog.Debug("failed to decode SSE data", "error", err)
		return StreamEvent{}, false
	}

	switch eventType {
	case "content_block_start":
		var index int
		var block StreamBlock
		_ = json.Unmarshal(raw["index"], &index)
		_ = json.Unmarshal(raw["content_block"], &block)
		return StreamEvent{Kind: StreamContentBlockStart, Index: index, Block: block}, true

	case "content_block_delta":
		var index int
		_ = json.Unmarshal(raw["index"], &index)
		var delta struct {
			Type        string `json:"type"`
			Text        string `json:"text"`
			PartialJSON string `json:"partial_json"`
		}
		_ = json.Unmarshal(raw["delta"], &delta)
		switch delta.Type {
		case "text_delta":
			return StreamEvent{Kind: StreamTextDelta, Index: index, Text: delta.Text}, true
		case "input_json_delta":
			return StreamEvent{Kind: StreamInputJSONDelta, Index: index, PartialJSON: delta.PartialJSON}, true
		default:
			slog.Debug("unknown delta type", "type", delta.Type)
			return StreamEvent{}, false
		}

	case "content_block_stop":
		var index int
		_ = json.Unmarshal(raw["index"], &index)
		return StreamEvent{Kind: StreamContentBlockStop, Index: index}, true

	case "message_delta":
		var delta struct {
			StopReason string `json:"stop_reason"`
		}
		_ = json.Unmarshal(raw["delta"], &delta)
		return StreamEvent{Kind: StreamMessageDelta, StopReason: delta.StopReason}, true

	case "message_stop":
		return StreamEvent{Kind: StreamMessageStop}, true

	case "message_start", "ping":
		return StreamEvent{}, false

	default:
		slog.Debug("unknown SSE event type", "type", eventType)
		return StreamEvent{}, false
	}
}

// IsTransientError reports whether err is worth retrying at the next turn:
// network failures and the 429, 500, 502 and 503 status codes are transient;
// other status codes and decode failures are not.
func (c *AnthropicClient) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, ErrNetwork.Error()):
		return true
	case strings.Contains(msg, "429"), strings.Contains(msg, "500"),
		strings.Contains(msg, "502"), strings.Contains(msg, "503"):
		return true
	default:
		return false
	}
}
