package thread

import (
	"context"
	"testing"
	"time"

	"myagent/pkg/protocol"
)

type echoAgent struct {
	name string
}

func (a *echoAgent) Name() string { return a.name }

func (a *echoAgent) Run(ctx context.Context, sq <-chan protocol.Submission, eq chan<- protocol.AgentEvent) {
	for sub := range sq {
		switch sub.Kind {
		case protocol.SubmissionShutdown, protocol.SubmissionCancel:
			return
		default:
			eq <- protocol.NewTextDelta(0, sub.Text)
		}
	}
}

func TestAgentThreadSubmitAndReceive(t *testing.T) {
	ctx := context.Background()
	th := Spawn(ctx, protocol.NewThreadId(), &echoAgent{name: "echo"})

	if err := th.Submit(ctx, protocol.NewUserMessage("hello")); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	ev, ok := th.NextEvent(ctx)
	if !ok {
		t.Fatal("expected an event")
	}
	if ev.Kind != protocol.EventTextDelta || ev.Text != "hello" {
		t.Fatalf("unexpected event: %+v", ev)
	}

	if err := th.Submit(ctx, protocol.NewShutdown()); err != nil {
		t.Fatalf("submit shutdown failed: %v", err)
	}

	// Agent goroutine should finish and close eq.
	deadline := time.After(time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for thread to finish")
		default:
		}
		if th.Done() {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func TestAgentThreadSubmitAfterClose(t *testing.T) {
	ctx := context.Background()
	th := Spawn(ctx, protocol.NewThreadId(), &echoAgent{name: "echo"})

	if err := th.Submit(ctx, protocol.NewShutdown()); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	deadline := time.After(time.Second)
	for !th.Done() {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for thread to finish")
		default:
		}
		time.Sleep(time.Millisecond)
	}

	if err := th.Submit(ctx, protocol.NewUserMessage("late")); err == nil {
		t.Fatal("expected error submitting to a finished thread")
	}
}

func TestManagerCreateGetRemove(t *testing.T) {
	ctx := context.Background()
	m := NewManager(func(agentType string) (Agent, error) {
		return &echoAgent{name: agentType}, nil
	})

	id, th, err := m.CreateThread(ctx, "ai")
	if err != nil {
		t.Fatalf("create thread failed: %v", err)
	}
	if th.AgentName != "ai" {
		t.Fatalf("expected agent name 'ai', got %q", th.AgentName)
	}

	got, ok := m.GetThread(id)
	if !ok || got != th {
		t.Fatal("expected to retrieve the same thread")
	}

	m.RemoveThread(id)
	if _, ok := m.GetThread(id); ok {
		t.Fatal("expected thread to be removed")
	}
}

func TestManagerGCIdleOnlyEvictsFinishedAndIdle(t *testing.T) {
	ctx := context.Background()
	m := NewManager(func(agentType string) (Agent, error) {
		return &echoAgent{name: agentType}, nil
	})

	liveID, _, _ := m.CreateThread(ctx, "ai")
	finishedID, finishedTh, _ := m.CreateThread(ctx, "ai")

	if err := finishedTh.Submit(ctx, protocol.NewShutdown()); err != nil {
		t.Fatalf("submit shutdown failed: %v", err)
	}
	deadline := time.After(time.Second)
	for !finishedTh.Done() {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for thread to finish")
		default:
		}
		time.Sleep(time.Millisecond)
	}

	// maxIdle of 0 means "finished" is immediately evictable; the live
	// thread (never finished) must survive regardless of idle duration.
	evicted := m.GCIdle(0)
	if len(evicted) != 1 || evicted[0] != finishedID {
		t.Fatalf("expected only the finished thread evicted, got %v", evicted)
	}
	if _, ok := m.GetThread(liveID); !ok {
		t.Fatal("live thread should not have been evicted")
	}
	if _, ok := m.GetThread(finishedID); ok {
		t.Fatal("finished thread should have been evicted")
	}
}
