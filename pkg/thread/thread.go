// Package thread implements the per-conversation runtime: an AgentThread
// pairs a ThreadId with bounded submission/event queues and the background
// task running the agent, and a Manager tracks the set of live threads.
package thread

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"myagent/pkg/protocol"
)

const (
	sqCapacity = 64
	eqCapacity = 512
)

// Agent drives one thread's conversation: it consumes Submissions from sq
// and emits AgentEvents to eq until sq's sender side is abandoned or a
// Shutdown/Cancel submission ends the run.
type Agent interface {
	Name() string
	Run(ctx context.Context, sq <-chan protocol.Submission, eq chan<- protocol.AgentEvent)
}

// AgentThread pairs a ThreadId with its bounded queues and the goroutine
// running the agent. NextEvent assumes a single consumer per thread;
// concurrent callers race on delivery order, they do not corrupt state.
type AgentThread struct {
	ThreadID  protocol.ThreadId
	AgentName string

	sq   chan protocol.Submission
	eq   chan protocol.AgentEvent
	done chan struct{}

	lastActivity atomic.Int64
}

// Spawn starts the agent in a new goroutine and returns the thread handle.
func Spawn(ctx context.Context, id protocol.ThreadId, agent Agent) *AgentThread {
	t := &AgentThread{
		ThreadID:  id,
		AgentName: agent.Name(),
		sq:        make(chan protocol.Submission, sqCapacity),
		eq:        make(chan protocol.AgentEvent, eqCapacity),
		done:      make(chan struct{}),
	}
	t.touch()

	go func() {
		defer close(t.done)
		defer close(t.eq)
		agent.Run(ctx, t.sq, t.eq)
	}()

	return t
}

func (t *AgentThread) touch() {
	t.lastActivity.Store(time.Now().UnixNano())
}

// Submit enqueues a submission (SQ). It blocks if the queue is full, and
// returns an error once the thread has finished.
func (t *AgentThread) Submit(ctx context.Context, sub protocol.Submission) error {
	select {
	case t.sq <- sub:
		t.touch()
		return nil
	case <-t.done:
		return fmt.Errorf("agent thread %s is closed", t.ThreadID)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NextEvent receives the next event (EQ). The second return is false once
// the agent has finished and the event queue is drained, or ctx is done.
func (t *AgentThread) NextEvent(ctx context.Context) (protocol.AgentEvent, bool) {
	select {
	case ev, ok := <-t.eq:
		if ok {
			t.touch()
		}
		return ev, ok
	case <-ctx.Done():
		return protocol.AgentEvent{}, false
	}
}

// Done reports whether the agent goroutine has finished.
func (t *AgentThread) Done() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// IdleSince returns how long it has been since the last SQ submit or EQ
// receive on this thread.
func (t *AgentThread) IdleSince() time.Duration {
	return time.Since(time.Unix(0, t.lastActivity.Load()))
}
