// Package agent implements the two agent backends that drive a thread's
// conversation: AiAgent (a native streaming tool-use loop against any
// llmclient.LLMClient) and ClaudeSubprocessAgent (a thin wrapper around the
// `claude` CLI in headless mode).
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"myagent/pkg/llmclient"
	"myagent/pkg/protocol"
	"myagent/pkg/tools"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	systemPromptBase = "You are a helpful AI coding assistant running on the user's local machine. " +
		"You have access to shell and file tools. You can use the shell tool to run any command, " +
		"including invoking other AI coding agents in headless mode."
	systemPromptTail = "\n\nAlways explain what you're doing before executing commands. " +
		"Be concise in your responses."

	maxStreamRetries = 3
	retryBaseDelay   = 500 * time.Millisecond

	summarizeThresholdMessages = 40
	summarizeKeepRecent        = 10
)

// AiAgent runs the native streaming tool-use loop: send request, drain the
// stream into an accumulator, execute any requested tools under a
// read/write lock discipline, and repeat until the model stops requesting
// tools.
type AiAgent struct {
	client    llmclient.LLMClient
	model     string
	workspace string
	registry  *tools.Registry
	hasFeishu bool

	mu         sync.Mutex
	summary    string
	summarized int // messages already folded into summary
}

// NewAiAgent builds an AiAgent bound to one LLM backend, tool registry, and
// working directory.
func NewAiAgent(client llmclient.LLMClient, model, workspace string, registry *tools.Registry, hasFeishu bool) *AiAgent {
	return &AiAgent{
		client:    client,
		model:     model,
		workspace: workspace,
		registry:  registry,
		hasFeishu: hasFeishu,
	}
}

// Name identifies this agent type to the thread manager and front-ends.
func (a *AiAgent) Name() string { return "MyAgent" }

// Run consumes submissions until sq is drained or a Cancel/Shutdown is
// received, driving one turnCycle per UserMessage/FollowUp.
func (a *AiAgent) Run(ctx context.Context, sq <-chan protocol.Submission, eq chan<- protocol.AgentEvent) {
	var messages []llmclient.Message

	for sub := range sq {
		switch sub.Kind {
		case protocol.SubmissionUserMessage, protocol.SubmissionFollowUp:
			messages = append(messages, llmclient.Message{
				Role:    string(protocol.RoleUser),
				Content: []llmclient.ContentPart{{Type: protocol.BlockTypeText, Text: sub.Text}},
			})
			emit(eq, protocol.NewStatusChange(protocol.AgentStatusWorking))

			system := a.buildSystemPrompt()
			if err := a.turnCycle(ctx, &messages, system, eq); err != nil {
				slog.ErrorContext(ctx, "agent turn failed", "error", err)
				emit(eq, protocol.NewErrorEvent(err.Error()))
				emit(eq, protocol.NewStatusFailed(err.Error()))
			} else {
				emit(eq, protocol.NewStatusChange(protocol.AgentStatusCompleted))
			}

			a.maybeSummarize(ctx, messages)

		case protocol.SubmissionCancel:
			emit(eq, protocol.NewStatusChange(protocol.AgentStatusCancelled))
			return

		case protocol.SubmissionShutdown:
			return
		}
	}
}

func (a *AiAgent) buildSystemPrompt() string {
	var b strings.Builder
	b.WriteString(systemPromptBase)
	if a.hasFeishu {
		b.WriteString("\n\nWhen the user mentions a file shared in chat, use the Feishu file tools to locate and download it before reading it.")
	}
	b.WriteString(systemPromptTail)
	fmt.Fprintf(&b, "\n\nYour current working directory is: %s", a.workspace)

	a.mu.Lock()
	summary := a.summary
	a.mu.Unlock()
	if summary != "" {
		fmt.Fprintf(&b, "\n\n[CONVERSATION SUMMARY]\n%s", summary)
	}
	return b.String()
}

// turnCycle drives one or more LLM round-trips: each iteration streams a
// response, and if the model requested tools, executes them and loops with
// the tool results appended; it returns once the model stops without
// requesting tools.
func (a *AiAgent) turnCycle(ctx context.Context, messages *[]llmclient.Message, system string, eq chan<- protocol.AgentEvent) error {
	toolDefs := buildToolDefs(a.registry)

	for {
		req := llmclient.CreateMessageRequest{
			Model:     a.model,
			MaxTokens: llmclient.DefaultMaxTokens,
			Messages:  *messages,
			Tools:     toolDefs,
			Stream:    true,
			System:    system,
		}

		assistantContent, stopReason, err := a.streamTurn(ctx, req, eq)
		if err != nil {
			return err
		}

		*messages = append(*messages, llmclient.Message{
			Role:    string(protocol.RoleAssistant),
			Content: toContentParts(assistantContent),
		})

		toolUses := filterToolUse(assistantContent)
		if len(toolUses) == 0 || stopReason != "tool_use" {
			return nil
		}

		results := a.executeTools(ctx, toolUses)

		blockIndex := 0
		var resultParts []llmclient.ContentPart
		for _, r := range results {
			block := protocol.NewToolResultBlock(r.id, r.output, r.isError)
			emit(eq, protocol.NewContentBlockStart(blockIndex, block))
			emit(eq, protocol.NewContentBlockStop(blockIndex))
			blockIndex++
			resultParts = append(resultParts, llmclient.ContentPart{
				Type:      protocol.BlockTypeToolResult,
				ToolUseID: r.id,
				Content:   r.output,
				IsError:   r.isError,
			})
		}

		*messages = append(*messages, llmclient.Message{
			Role:    string(protocol.RoleUser),
			Content: resultParts,
		})
	}
}

// streamTurn issues one streaming request (retrying transient failures with
// backoff) and accumulates its events into content blocks, forwarding every
// event to eq as it arrives.
func (a *AiAgent) streamTurn(ctx context.Context, req llmclient.CreateMessageRequest, eq chan<- protocol.AgentEvent) ([]protocol.ContentBlock, string, error) {
	var stream <-chan llmclient.StreamEvent
	var err error

	for attempt := 0; ; attempt++ {
		stream, err = a.client.StreamMessage(ctx, req)
		if err == nil {
			break
		}
		if attempt >= maxStreamRetries-1 || !a.client.IsTransientError(err) {
			return nil, "", fmt.Errorf("stream message: %w", err)
		}
		select {
		case <-time.After(retryBaseDelay * time.Duration(1<<attempt)):
		case <-ctx.Done():
			return nil, "", ctx.Err()
		}
	}

	var (
		assistantContent []protocol.ContentBlock
		currentText      strings.Builder
		currentToolJSON  strings.Builder
		currentTool      *protocol.ContentBlock
		stopReason       string
		blockIndex       int
	)

	flushText := func() {
		if currentText.Len() > 0 {
			assistantContent = append(assistantContent, protocol.NewTextBlock(currentText.String()))
			currentText.Reset()
		}
	}
	flushTool := func() {
		if currentTool != nil {
			// Backends that pre-parse tool input (no input_json_delta) put it
			// on the start block; only the accumulated JSON overrides it.
			if currentToolJSON.Len() > 0 {
				var input interface{}
				if err := json.Unmarshal([]byte(currentToolJSON.String()), &input); err != nil {
					input = map[string]interface{}{}
				}
				currentTool.Input = input
			} else if currentTool.Input == nil {
				currentTool.Input = map[string]interface{}{}
			}
			assistantContent = append(assistantContent, *currentTool)
			currentTool = nil
			currentToolJSON.Reset()
		}
	}

	for ev := range stream {
		switch ev.Kind {
		case llmclient.StreamContentBlockStart:
			flushText()
			flushTool()
			switch ev.Block.Type {
			case protocol.BlockTypeToolUse:
				block := protocol.NewToolUseBlock(ev.Block.ID, ev.Block.Name, ev.Block.Input)
				emit(eq, protocol.NewContentBlockStart(blockIndex, block))
				currentTool = &block
			case protocol.BlockTypeText:
				emit(eq, protocol.NewContentBlockStart(blockIndex, protocol.NewTextBlock(ev.Block.Text)))
			}

		case llmclient.StreamTextDelta:
			currentText.WriteString(ev.Text)
			emit(eq, protocol.NewTextDelta(blockIndex, ev.Text))

		case llmclient.StreamInputJSONDelta:
			currentToolJSON.WriteString(ev.PartialJSON)
			emit(eq, protocol.NewInputJSONDelta(blockIndex, ev.PartialJSON))

		case llmclient.StreamContentBlockStop:
			emit(eq, protocol.NewContentBlockStop(blockIndex))
			flushText()
			flushTool()
			blockIndex++

		case llmclient.StreamMessageDelta:
			stopReason = ev.StopReason
			emit(eq, protocol.NewMessageDelta(ev.StopReason))

		case llmclient.StreamMessageStop:
			emit(eq, protocol.NewMessageStop())
		}
	}

	flushText()
	flushTool()

	return assistantContent, stopReason, nil
}

type toolResult struct {
	id      string
	name    string
	output  string
	isError bool
}

// executeTools runs every requested tool, concurrently when possible: all
// read-only tools in one turn share a read lock while any other tool
// requires the exclusive write lock, so writers never run alongside a
// reader. Each call is wrapped so a panic inside a tool still yields an
// error result rather than taking down the agent.
func (a *AiAgent) executeTools(ctx context.Context, toolUses []protocol.ContentBlock) []toolResult {
	var lock sync.RWMutex
	results := make([]toolResult, len(toolUses))
	var wg sync.WaitGroup

	for i, use := range toolUses {
		i, use := i, use
		wg.Add(1)
		go func() {
			defer wg.Done()
			if protocol.IsReadOnlyTool(use.Name) {
				lock.RLock()
				defer lock.RUnlock()
			} else {
				lock.Lock()
				defer lock.Unlock()
			}
			results[i] = a.runToolSafely(ctx, use)
		}()
	}
	wg.Wait()
	return results
}

func (a *AiAgent) runToolSafely(ctx context.Context, use protocol.ContentBlock) (result toolResult) {
	result = toolResult{id: use.ID, name: use.Name}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("tool execution panicked", "tool", use.Name, "recovered", r)
			result.output = "Error: internal tool panic"
			result.isError = true
		}
	}()

	def, ok := a.registry.Get(use.Name)
	if !ok {
		result.output = fmt.Sprintf("Error: unknown tool %q", use.Name)
		result.isError = true
		return result
	}

	input, _ := use.Input.(map[string]interface{})
	out, err := def.Run(ctx, a.workspace, input)
	if err != nil {
		result.output = fmt.Sprintf("Error: %v", err)
		result.isError = true
		return result
	}
	result.output = out
	return result
}

func buildToolDefs(registry *tools.Registry) []llmclient.ToolDef {
	defs := registry.Defs()
	out := make([]llmclient.ToolDef, len(defs))
	for i, d := range defs {
		out[i] = llmclient.ToolDef{Name: d.Name, Description: d.Description, InputSchema: d.InputSchema}
	}
	return out
}

func filterToolUse(blocks []protocol.ContentBlock) []protocol.ContentBlock {
	var out []protocol.ContentBlock
	for _, b := range blocks {
		if b.Type == protocol.BlockTypeToolUse {
			out = append(out, b)
		}
	}
	return out
}

func toContentParts(blocks []protocol.ContentBlock) []llmclient.ContentPart {
	out := make([]llmclient.ContentPart, len(blocks))
	for i, b := range blocks {
		out[i] = llmclient.ContentPart{
			Type:      b.Type,
			Text:      b.Text,
			ID:        b.ID,
			Name:      b.Name,
			Input:     b.Input,
			ToolUseID: b.ToolUseID,
			IsError:   b.IsError,
		}
	}
	return out
}

// emit sends an event to the bounded EQ, blocking if it is full. Events are
// never dropped: ordering is a hard invariant, and a full queue just means
// backpressure on a slow consumer.
func emit(eq chan<- protocol.AgentEvent, ev protocol.AgentEvent) {
	eq <- ev
}
