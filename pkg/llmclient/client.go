// Package llmclient issues streaming inference requests and parses the
// response into the protocol package's AgentEvent-shaped vocabulary, built
// around an Anthropic Messages-API-compatible wire protocol.
package llmclient

import (
	"context"
	"errors"
)

// Sentinel error kinds, matched with errors.Is by callers. These correspond
// to the Network / HttpStatus / Decode / TokenExpired error kinds named in
// the error-handling design.
var (
	ErrNetwork      = errors.New("llmclient: network error")
	ErrHTTPStatus   = errors.New("llmclient: http status error")
	ErrDecode       = errors.New("llmclient: decode error")
	ErrTokenExpired = errors.New("llmclient: token expired")
)

// ToolDef is a tool definition passed in the request body: name,
// description, and a JSON schema for its arguments.
type ToolDef struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema interface{} `json:"input_schema"`
}

// Message is the wire shape of one history entry sent to the LLM.
type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart is the wire shape of one content block sent to the LLM.
type ContentPart struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	ID    string      `json:"id,omitempty"`
	Name  string      `json:"name,omitempty"`
	Input interface{} `json:"input,omitempty"`

	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// CreateMessageRequest is the request body for a streaming Messages-API call.
type CreateMessageRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []Message `json:"messages"`
	Tools     []ToolDef `json:"tools,omitempty"`
	Stream    bool      `json:"stream"`
	System    string    `json:"system,omitempty"`
}

const DefaultMaxTokens = 16384

// StreamEventKind discriminates StreamEvent variants.
type StreamEventKind string

const (
	StreamContentBlockStart StreamEventKind = "content_block_start"
	StreamTextDelta         StreamEventKind = "text_delta"
	StreamInputJSONDelta    StreamEventKind = "input_json_delta"
	StreamContentBlockStop  StreamEventKind = "content_block_stop"
	StreamMessageDelta      StreamEventKind = "message_delta"
	StreamMessageStop       StreamEventKind = "message_stop"
)

// StreamBlock is the content_block payload of a content_block_start event:
// only Text and ToolUse ever originate from the LLM itself.
type StreamBlock struct {
	Type  string      `json:"type"`
	Text  string      `json:"text,omitempty"`
	ID    string      `json:"id,omitempty"`
	Name  string      `json:"name,omitempty"`
	Input interface{} `json:"input,omitempty"`
}

// StreamEvent is one parsed SSE event.
type StreamEvent struct {
	Kind StreamEventKind

	Index       int
	Block       StreamBlock
	Text        string
	PartialJSON string
	StopReason  string
}

// LLMClient issues one streaming request and returns a channel of parsed
// events. The channel is closed by the producer on MessageStop or on any
// transport error (logged by the implementation before closing).
type LLMClient interface {
	StreamMessage(ctx context.Context, req CreateMessageRequest) (<-chan StreamEvent, error)
	IsTransientError(err error) bool
}
