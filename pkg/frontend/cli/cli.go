// Package cli implements myagent's terminal front-end: one-shot `-p/--prompt`
// runs and an interactive REPL, both driving a thread.Manager the same way
// every other front-end does.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"myagent/pkg/protocol"
	"myagent/pkg/thread"
)

// Frontend is myagent's terminal front-end.
type Frontend struct {
	// Prompt, if non-empty, runs a single one-shot turn instead of the
	// interactive REPL.
	Prompt    string
	AgentType string
}

// Run starts this front-end against manager, blocking until the run ends.
func (f *Frontend) Run(ctx context.Context, manager *thread.Manager) error {
	if f.Prompt != "" {
		return runOneshot(ctx, manager, f.AgentType, f.Prompt)
	}
	return runInteractive(ctx, manager, f.AgentType)
}

func runOneshot(ctx context.Context, manager *thread.Manager, agentType, prompt string) error {
	_, t, err := manager.CreateThread(ctx, agentType)
	if err != nil {
		return err
	}
	if err := t.Submit(ctx, protocol.NewUserMessage(prompt)); err != nil {
		return err
	}

	drainTurn(ctx, t)
	fmt.Println()
	return nil
}

func runInteractive(ctx context.Context, manager *thread.Manager, agentType string) error {
	fmt.Fprintln(os.Stderr, "myagent interactive mode (type 'exit' to quit)")
	fmt.Fprintf(os.Stderr, "Agent: %s\n\n", agentType)

	_, t, err := manager.CreateThread(ctx, agentType)
	if err != nil {
		return err
	}

	scanner := bufio.NewScanner(os.Stdin)
	firstMessage := true

	for {
		fmt.Fprint(os.Stderr, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		var sub protocol.Submission
		if firstMessage {
			firstMessage = false
			sub = protocol.NewUserMessage(line)
		} else {
			sub = protocol.NewFollowUp(line)
		}
		if err := t.Submit(ctx, sub); err != nil {
			return err
		}

		drainTurn(ctx, t)
		fmt.Println()
	}

	return scanner.Err()
}

// drainTurn reads events from t until the agent reaches a terminal status,
// rendering text deltas to stdout and tool/error markers to stderr.
func drainTurn(ctx context.Context, t *thread.AgentThread) {
	for {
		evt, ok := t.NextEvent(ctx)
		if !ok {
			return
		}

		switch evt.Kind {
		case protocol.EventTextDelta:
			fmt.Print(evt.Text)
		case protocol.EventContentBlockStart:
			switch evt.ContentBlock.Type {
			case protocol.BlockTypeToolUse:
				fmt.Fprintf(os.Stderr, "\n--- Tool: %s ---\n", evt.ContentBlock.Name)
			case protocol.BlockTypeToolResult:
				fmt.Fprintln(os.Stderr, "--- Tool done ---")
			}
		case protocol.EventStatusChange:
			if evt.Status.IsTerminal() {
				if evt.Status.Phase == protocol.AgentStatusFailed {
					fmt.Fprintf(os.Stderr, "\nFailed: %s\n", evt.Status.Message)
				} else if evt.Status.Phase == protocol.AgentStatusCancelled {
					fmt.Fprintln(os.Stderr, "\nCancelled")
				}
				return
			}
		case protocol.EventError:
			fmt.Fprintf(os.Stderr, "\nError: %s\n", evt.ErrorMessage)
		}
	}
}
