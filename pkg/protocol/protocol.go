// Package protocol defines the wire- and history-level vocabulary shared by
// the agent loop, the thread runtime, and every front-end: threads,
// messages, content blocks, submissions, and agent events.
package protocol

import (
	"strings"

	"github.com/google/uuid"
)

// ThreadId names one user conversation. It is an opaque, short, random
// identifier: the first 8 hex characters of a UUIDv4.
type ThreadId string

// NewThreadId mints a fresh random ThreadId.
func NewThreadId() ThreadId {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return ThreadId(id[:8])
}

// Role is the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in the conversation history: a role plus an ordered
// sequence of content blocks.
type Message struct {
	Role    Role          `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ContentBlock is a tagged union over Text, ToolUse, and ToolResult. Only
// the fields relevant to Type are populated, rather than modeling each
// variant as its own type.
type ContentBlock struct {
	Type string `json:"type"`

	// Text: BlockTypeText
	Text string `json:"text,omitempty"`

	// ToolUse: BlockTypeToolUse
	ID    string      `json:"id,omitempty"`
	Name  string      `json:"name,omitempty"`
	Input interface{} `json:"input,omitempty"`

	// ToolResult: BlockTypeToolResult
	ToolUseID string `json:"tool_use_id,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

const (
	BlockTypeText       = "text"
	BlockTypeToolUse    = "tool_use"
	BlockTypeToolResult = "tool_result"
)

// NewTextBlock builds a Text content block.
func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockTypeText, Text: text}
}

// NewToolUseBlock builds a ToolUse content block.
func NewToolUseBlock(id, name string, input interface{}) ContentBlock {
	return ContentBlock{Type: BlockTypeToolUse, ID: id, Name: name, Input: input}
}

// NewToolResultBlock builds a ToolResult content block.
func NewToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockTypeToolResult, ToolUseID: toolUseID, Text: content, IsError: isError}
}

// SubmissionKind discriminates Submission variants.
type SubmissionKind string

const (
	SubmissionUserMessage SubmissionKind = "user_message"
	SubmissionFollowUp    SubmissionKind = "follow_up"
	SubmissionCancel      SubmissionKind = "cancel"
	SubmissionShutdown    SubmissionKind = "shutdown"
)

// Submission is what a front-end sends into a thread's SQ.
type Submission struct {
	Kind SubmissionKind
	Text string // populated for UserMessage / FollowUp
}

func NewUserMessage(text string) Submission { return Submission{Kind: SubmissionUserMessage, Text: text} }
func NewFollowUp(text string) Submission    { return Submission{Kind: SubmissionFollowUp, Text: text} }
func NewCancel() Submission                 { return Submission{Kind: SubmissionCancel} }
func NewShutdown() Submission               { return Submission{Kind: SubmissionShutdown} }

// AgentStatus is the lifecycle status of one thread's agent task.
type AgentStatus struct {
	Phase   string // one of the AgentStatus* constants
	Message string // populated for Failed
}

const (
	AgentStatusStarting  = "starting"
	AgentStatusWorking   = "working"
	AgentStatusIdle      = "idle"
	AgentStatusCompleted = "completed"
	AgentStatusFailed    = "failed"
	AgentStatusCancelled = "cancelled"
)

// IsTerminal reports whether this status ends a turn: Completed, Failed, or
// Cancelled are the three terminal phases.
func (s AgentStatus) IsTerminal() bool {
	switch s.Phase {
	case AgentStatusCompleted, AgentStatusFailed, AgentStatusCancelled:
		return true
	default:
		return false
	}
}

// AgentEventKind discriminates AgentEvent variants; it mirrors the LLM's own
// streaming vocabulary plus two lifecycle signals.
type AgentEventKind string

const (
	EventContentBlockStart AgentEventKind = "content_block_start"
	EventTextDelta         AgentEventKind = "text_delta"
	EventInputJSONDelta    AgentEventKind = "input_json_delta"
	EventContentBlockStop  AgentEventKind = "content_block_stop"
	EventMessageDelta      AgentEventKind = "message_delta"
	EventMessageStop       AgentEventKind = "message_stop"
	EventStatusChange      AgentEventKind = "status_change"
	EventError             AgentEventKind = "error"
)

// AgentEvent is one item on a thread's EQ.
type AgentEvent struct {
	Kind AgentEventKind

	Index        int          `json:"index,omitempty"`
	ContentBlock ContentBlock `json:"content_block,omitempty"`
	Text         string       `json:"text,omitempty"`
	PartialJSON  string       `json:"partial_json,omitempty"`
	StopReason   string       `json:"stop_reason,omitempty"`
	Status       AgentStatus  `json:"status,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
}

func NewContentBlockStart(index int, block ContentBlock) AgentEvent {
	return AgentEvent{Kind: EventContentBlockStart, Index: index, ContentBlock: block}
}

func NewTextDelta(index int, text string) AgentEvent {
	return AgentEvent{Kind: EventTextDelta, Index: index, Text: text}
}

func NewInputJSONDelta(index int, partialJSON string) AgentEvent {
	return AgentEvent{Kind: EventInputJSONDelta, Index: index, PartialJSON: partialJSON}
}

func NewContentBlockStop(index int) AgentEvent {
	return AgentEvent{Kind: EventContentBlockStop, Index: index}
}

func NewMessageDelta(stopReason string) AgentEvent {
	return AgentEvent{Kind: EventMessageDelta, StopReason: stopReason}
}

func NewMessageStop() AgentEvent { return AgentEvent{Kind: EventMessageStop} }

func NewStatusChange(phase string) AgentEvent {
	return AgentEvent{Kind: EventStatusChange, Status: AgentStatus{Phase: phase}}
}

func NewStatusFailed(msg string) AgentEvent {
	return AgentEvent{Kind: EventStatusChange, Status: AgentStatus{Phase: AgentStatusFailed, Message: msg}}
}

func NewErrorEvent(msg string) AgentEvent {
	return AgentEvent{Kind: EventError, ErrorMessage: msg}
}

// ReadOnlyTools are the tool names that may execute concurrently under a
// shared read lock within one turn; every other tool name (notably
// apply_patch) requires the exclusive write lock.
var ReadOnlyTools = map[string]bool{
	"shell":       true,
	"read_file":   true,
	"list_dir":    true,
	"grep_files":  true,
}

// IsReadOnlyTool reports whether name may run concurrently with other reads.
func IsReadOnlyTool(name string) bool {
	return ReadOnlyTools[name]
}
