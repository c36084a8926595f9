package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"myagent/pkg/llmclient"
	"myagent/pkg/protocol"
	"myagent/pkg/tools"
)

// scriptedClient replays one pre-built event stream per StreamMessage call
// and records every request it sees.
type scriptedClient struct {
	mu       sync.Mutex
	scripts  [][]llmclient.StreamEvent
	requests []llmclient.CreateMessageRequest
	call     int
}

func (c *scriptedClient) StreamMessage(ctx context.Context, req llmclient.CreateMessageRequest) (<-chan llmclient.StreamEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if c.call >= len(c.scripts) {
		return nil, errors.New("scripted client exhausted")
	}
	evs := c.scripts[c.call]
	c.call++

	ch := make(chan llmclient.StreamEvent, len(evs))
	for _, e := range evs {
		ch <- e
	}
	close(ch)
	return ch, nil
}

func (c *scriptedClient) IsTransientError(err error) bool { return false }

func (c *scriptedClient) request(i int) llmclient.CreateMessageRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[i]
}

func (c *scriptedClient) requestCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func textTurn(text, stopReason string) []llmclient.StreamEvent {
	return []llmclient.StreamEvent{
		{Kind: llmclient.StreamContentBlockStart, Index: 0, Block: llmclient.StreamBlock{Type: protocol.BlockTypeText}},
		{Kind: llmclient.StreamTextDelta, Index: 0, Text: text},
		{Kind: llmclient.StreamContentBlockStop, Index: 0},
		{Kind: llmclient.StreamMessageDelta, StopReason: stopReason},
		{Kind: llmclient.StreamMessageStop},
	}
}

func toolUseTurn(uses ...llmclient.StreamBlock) []llmclient.StreamEvent {
	var evs []llmclient.StreamEvent
	for i, u := range uses {
		evs = append(evs,
			llmclient.StreamEvent{Kind: llmclient.StreamContentBlockStart, Index: i, Block: u},
			llmclient.StreamEvent{Kind: llmclient.StreamInputJSONDelta, Index: i, PartialJSON: u.Text},
			llmclient.StreamEvent{Kind: llmclient.StreamContentBlockStop, Index: i},
		)
	}
	evs = append(evs,
		llmclient.StreamEvent{Kind: llmclient.StreamMessageDelta, StopReason: "tool_use"},
		llmclient.StreamEvent{Kind: llmclient.StreamMessageStop},
	)
	return evs
}

// toolUse builds a tool_use start block whose Text field smuggles the JSON
// the scripted stream will replay as its input_json_delta.
func toolUse(id, name, inputJSON string) llmclient.StreamBlock {
	return llmclient.StreamBlock{Type: protocol.BlockTypeToolUse, ID: id, Name: name, Text: inputJSON}
}

// runAgentTurns drives agent through subs and collects all EQ events until
// the agent goroutine exits.
func runAgentTurns(t *testing.T, agent *AiAgent, subs ...protocol.Submission) []protocol.AgentEvent {
	t.Helper()
	sq := make(chan protocol.Submission, len(subs))
	eq := make(chan protocol.AgentEvent, 512)
	for _, s := range subs {
		sq <- s
	}
	close(sq)

	done := make(chan struct{})
	go func() {
		defer close(done)
		agent.Run(context.Background(), sq, eq)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not finish")
	}
	close(eq)

	var events []protocol.AgentEvent
	for ev := range eq {
		events = append(events, ev)
	}
	return events
}

func eventsOfKind(events []protocol.AgentEvent, kind protocol.AgentEventKind) []protocol.AgentEvent {
	var out []protocol.AgentEvent
	for _, e := range events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func TestSimpleTextReply(t *testing.T) {
	client := &scriptedClient{scripts: [][]llmclient.StreamEvent{textTurn("Hi!", "end_turn")}}
	agent := NewAiAgent(client, "test-model", t.TempDir(), tools.NewRegistry(), false)

	events := runAgentTurns(t, agent, protocol.NewUserMessage("Say hi."))

	require.Equal(t, protocol.EventStatusChange, events[0].Kind)
	require.Equal(t, protocol.AgentStatusWorking, events[0].Status.Phase)

	starts := eventsOfKind(events, protocol.EventContentBlockStart)
	stops := eventsOfKind(events, protocol.EventContentBlockStop)
	require.Len(t, starts, 1)
	require.Len(t, stops, 1)

	deltas := eventsOfKind(events, protocol.EventTextDelta)
	require.Len(t, deltas, 1)
	require.Equal(t, "Hi!", deltas[0].Text)

	last := events[len(events)-1]
	require.Equal(t, protocol.EventStatusChange, last.Kind)
	require.Equal(t, protocol.AgentStatusCompleted, last.Status.Phase)

	// One request, one user message in it.
	require.Equal(t, 1, client.requestCount())
	require.Len(t, client.request(0).Messages, 1)
}

func TestSingleToolCall(t *testing.T) {
	client := &scriptedClient{scripts: [][]llmclient.StreamEvent{
		toolUseTurn(toolUse("t1", "list_dir", `{"dir_path":"."}`)),
		textTurn("Done.", "end_turn"),
	}}

	registry := tools.NewRegistry()
	var gotInput map[string]interface{}
	registry.Register(tools.Def{
		Name: "list_dir",
		Run: func(ctx context.Context, workDir string, input map[string]interface{}) (string, error) {
			gotInput = input
			return "README.md", nil
		},
	})

	agent := NewAiAgent(client, "test-model", t.TempDir(), registry, false)
	events := runAgentTurns(t, agent, protocol.NewUserMessage("List the repo."))

	require.Equal(t, map[string]interface{}{"dir_path": "."}, gotInput)

	// The synthetic tool-result block appears on the EQ.
	var sawResult bool
	for _, e := range eventsOfKind(events, protocol.EventContentBlockStart) {
		if e.ContentBlock.Type == protocol.BlockTypeToolResult {
			sawResult = true
			require.Equal(t, "t1", e.ContentBlock.ToolUseID)
			require.Equal(t, "README.md", e.ContentBlock.Text)
		}
	}
	require.True(t, sawResult)

	// Second request carries user, assistant(tool_use), user(tool_result).
	require.Equal(t, 2, client.requestCount())
	second := client.request(1)
	require.Len(t, second.Messages, 3)
	resultMsg := second.Messages[2]
	require.Equal(t, string(protocol.RoleUser), resultMsg.Role)
	require.Len(t, resultMsg.Content, 1)
	require.Equal(t, protocol.BlockTypeToolResult, resultMsg.Content[0].Type)
	require.Equal(t, "t1", resultMsg.Content[0].ToolUseID)

	last := events[len(events)-1]
	require.Equal(t, protocol.AgentStatusCompleted, last.Status.Phase)
}

func TestToolResultEchoOrder(t *testing.T) {
	client := &scriptedClient{scripts: [][]llmclient.StreamEvent{
		toolUseTurn(
			toolUse("t1", "read_file", `{"file_path":"a"}`),
			toolUse("t2", "read_file", `{"file_path":"b"}`),
			toolUse("t3", "read_file", `{"file_path":"c"}`),
		),
		textTurn("Done.", "end_turn"),
	}}

	registry := tools.NewRegistry()
	registry.Register(tools.Def{
		Name: "read_file",
		Run: func(ctx context.Context, workDir string, input map[string]interface{}) (string, error) {
			path, _ := input["file_path"].(string)
			return "contents of " + path, nil
		},
	})

	agent := NewAiAgent(client, "test-model", t.TempDir(), registry, false)
	runAgentTurns(t, agent, protocol.NewUserMessage("Read everything."))

	// Every tool_use id is echoed by exactly one tool_result, in positional
	// order.
	second := client.request(1)
	results := second.Messages[2].Content
	require.Len(t, results, 3)
	require.Equal(t, "t1", results[0].ToolUseID)
	require.Equal(t, "t2", results[1].ToolUseID)
	require.Equal(t, "t3", results[2].ToolUseID)
	require.Equal(t, "contents of a", results[0].Content)
	require.Equal(t, "contents of c", results[2].Content)
}

func TestConcurrentToolReads(t *testing.T) {
	client := &scriptedClient{scripts: [][]llmclient.StreamEvent{
		toolUseTurn(
			toolUse("t1", "read_file", `{}`),
			toolUse("t2", "read_file", `{}`),
			toolUse("t3", "read_file", `{}`),
		),
		textTurn("Done.", "end_turn"),
	}}

	var inFlight, peak atomic.Int32
	registry := tools.NewRegistry()
	registry.Register(tools.Def{
		Name: "read_file",
		Run: func(ctx context.Context, workDir string, input map[string]interface{}) (string, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(50 * time.Millisecond)
			inFlight.Add(-1)
			return "ok", nil
		},
	})

	agent := NewAiAgent(client, "test-model", t.TempDir(), registry, false)
	runAgentTurns(t, agent, protocol.NewUserMessage("Read everything."))

	require.GreaterOrEqual(t, peak.Load(), int32(2), "read-only tools should run concurrently")
}

func TestWriterExcludesReaders(t *testing.T) {
	client := &scriptedClient{scripts: [][]llmclient.StreamEvent{
		toolUseTurn(
			toolUse("t1", "apply_patch", `{}`),
			toolUse("t2", "read_file", `{}`),
		),
		textTurn("Done.", "end_turn"),
	}}

	var writing atomic.Bool
	var overlap atomic.Bool
	registry := tools.NewRegistry()
	registry.Register(tools.Def{
		Name: "apply_patch",
		Run: func(ctx context.Context, workDir string, input map[string]interface{}) (string, error) {
			writing.Store(true)
			time.Sleep(50 * time.Millisecond)
			writing.Store(false)
			return "patched", nil
		},
	})
	registry.Register(tools.Def{
		Name: "read_file",
		Run: func(ctx context.Context, workDir string, input map[string]interface{}) (string, error) {
			if writing.Load() {
				overlap.Store(true)
			}
			time.Sleep(10 * time.Millisecond)
			if writing.Load() {
				overlap.Store(true)
			}
			return "read", nil
		},
	})

	agent := NewAiAgent(client, "test-model", t.TempDir(), registry, false)
	runAgentTurns(t, agent, protocol.NewUserMessage("Patch and read."))

	require.False(t, overlap.Load(), "reader observed an in-progress write")
}

func TestFollowUpReusesHistory(t *testing.T) {
	client := &scriptedClient{scripts: [][]llmclient.StreamEvent{
		textTurn("Hi!", "end_turn"),
		textTurn("Goodbye!", "end_turn"),
	}}
	agent := NewAiAgent(client, "test-model", t.TempDir(), tools.NewRegistry(), false)

	events := runAgentTurns(t, agent,
		protocol.NewUserMessage("Say hi."),
		protocol.NewFollowUp("What about goodbye?"),
	)

	// The follow-up request sees the full three-message history.
	require.Equal(t, 2, client.requestCount())
	second := client.request(1)
	require.Len(t, second.Messages, 3)
	require.Equal(t, string(protocol.RoleUser), second.Messages[0].Role)
	require.Equal(t, string(protocol.RoleAssistant), second.Messages[1].Role)
	require.Equal(t, string(protocol.RoleUser), second.Messages[2].Role)

	completions := 0
	for _, e := range eventsOfKind(events, protocol.EventStatusChange) {
		if e.Status.Phase == protocol.AgentStatusCompleted {
			completions++
		}
	}
	require.Equal(t, 2, completions)
}

func TestCancelEmitsCancelled(t *testing.T) {
	client := &scriptedClient{}
	agent := NewAiAgent(client, "test-model", t.TempDir(), tools.NewRegistry(), false)

	events := runAgentTurns(t, agent, protocol.NewCancel())

	require.Len(t, events, 1)
	require.Equal(t, protocol.EventStatusChange, events[0].Kind)
	require.Equal(t, protocol.AgentStatusCancelled, events[0].Status.Phase)
}

func TestShutdownExitsSilently(t *testing.T) {
	client := &scriptedClient{}
	agent := NewAiAgent(client, "test-model", t.TempDir(), tools.NewRegistry(), false)

	events := runAgentTurns(t, agent, protocol.NewShutdown())
	require.Empty(t, events)
}

func TestStreamFailureEmitsErrorAndFailed(t *testing.T) {
	client := &scriptedClient{} // exhausted immediately: every call errors
	agent := NewAiAgent(client, "test-model", t.TempDir(), tools.NewRegistry(), false)

	events := runAgentTurns(t, agent, protocol.NewUserMessage("Hello?"))

	errs := eventsOfKind(events, protocol.EventError)
	require.Len(t, errs, 1)
	last := events[len(events)-1]
	require.Equal(t, protocol.AgentStatusFailed, last.Status.Phase)
}

func TestToolPanicBecomesErrorResult(t *testing.T) {
	client := &scriptedClient{scripts: [][]llmclient.StreamEvent{
		toolUseTurn(toolUse("t1", "apply_patch", `{}`)),
		textTurn("Recovered.", "end_turn"),
	}}

	registry := tools.NewRegistry()
	registry.Register(tools.Def{
		Name: "apply_patch",
		Run: func(ctx context.Context, workDir string, input map[string]interface{}) (string, error) {
			panic("boom")
		},
	})

	agent := NewAiAgent(client, "test-model", t.TempDir(), registry, false)
	events := runAgentTurns(t, agent, protocol.NewUserMessage("Patch it."))

	second := client.request(1)
	result := second.Messages[2].Content[0]
	require.True(t, result.IsError)
	require.Contains(t, result.Content, "Error")

	last := events[len(events)-1]
	require.Equal(t, protocol.AgentStatusCompleted, last.Status.Phase)
}

func TestSummarizeLeavesHistoryIntact(t *testing.T) {
	client := &scriptedClient{scripts: [][]llmclient.StreamEvent{
		textTurn("the rolling summary", "end_turn"),
	}}
	agent := NewAiAgent(client, "test-model", t.TempDir(), tools.NewRegistry(), false)

	var messages []llmclient.Message
	for i := 0; i < summarizeThresholdMessages+5; i++ {
		role := string(protocol.RoleUser)
		if i%2 == 1 {
			role = string(protocol.RoleAssistant)
		}
		messages = append(messages, llmclient.Message{
			Role:    role,
			Content: []llmclient.ContentPart{{Type: protocol.BlockTypeText, Text: "turn"}},
		})
	}
	before := len(messages)

	agent.maybeSummarize(context.Background(), messages)

	// The history is append-only: summarization must not shrink or rewrite
	// it, only fold older turns into the system-prompt summary.
	require.Len(t, messages, before)
	require.Contains(t, agent.buildSystemPrompt(), "the rolling summary")

	// An unchanged history is not re-summarized.
	agent.maybeSummarize(context.Background(), messages)
	require.Equal(t, 1, client.requestCount())
}

func TestContentBlockIndicesBalanced(t *testing.T) {
	client := &scriptedClient{scripts: [][]llmclient.StreamEvent{
		{
			{Kind: llmclient.StreamContentBlockStart, Index: 0, Block: llmclient.StreamBlock{Type: protocol.BlockTypeText}},
			{Kind: llmclient.StreamTextDelta, Index: 0, Text: "first"},
			{Kind: llmclient.StreamContentBlockStop, Index: 0},
			{Kind: llmclient.StreamContentBlockStart, Index: 1, Block: llmclient.StreamBlock{Type: protocol.BlockTypeText}},
			{Kind: llmclient.StreamTextDelta, Index: 1, Text: "second"},
			{Kind: llmclient.StreamContentBlockStop, Index: 1},
			{Kind: llmclient.StreamMessageDelta, StopReason: "end_turn"},
			{Kind: llmclient.StreamMessageStop},
		},
	}}
	agent := NewAiAgent(client, "test-model", t.TempDir(), tools.NewRegistry(), false)

	events := runAgentTurns(t, agent, protocol.NewUserMessage("Two blocks."))

	starts := eventsOfKind(events, protocol.EventContentBlockStart)
	stops := eventsOfKind(events, protocol.EventContentBlockStop)
	require.Equal(t, len(starts), len(stops))

	prev := -1
	for _, s := range starts {
		require.Greater(t, s.Index, prev, "indices must be strictly increasing")
		prev = s.Index
	}
}
