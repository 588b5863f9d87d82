package events

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestRecorderKeepsOrderBeforeWrap(t *testing.T) {
	r := NewRecorder(4)
	r.Record(Event{Kind: "a"})
	r.Record(Event{Kind: "b"})

	got := r.Recent()
	if len(got) != 2 || got[0].Kind != "a" || got[1].Kind != "b" {
		t.Errorf("Recent() = %v, want [a b]", got)
	}
}

func TestRecorderDropsOldest(t *testing.T) {
	r := NewRecorder(3)
	for i := 0; i < 5; i++ {
		r.Record(Event{Kind: fmt.Sprint(i)})
	}

	got := r.Recent()
	want := []string{"2", "3", "4"}
	if len(got) != len(want) {
		t.Fatalf("len(Recent()) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Kind != want[i] {
			t.Errorf("Recent()[%d] = %q, want %q", i, got[i].Kind, want[i])
		}
	}
}

func TestRecorderRun(t *testing.T) {
	b := New()
	r := NewRecorder(8)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, b) }()

	// Wait for the subscription before publishing.
	deadline := time.Now().Add(time.Second)
	for b.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("recorder never subscribed")
		}
		time.Sleep(time.Millisecond)
	}

	b.Emit(SourceSupervisor, KindTaskExit, map[string]any{"task": "sensor"})

	deadline = time.Now().Add(time.Second)
	for len(r.Recent()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("event never recorded")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() = %v, want nil", err)
	}
	if b.SubscriberCount() != 0 {
		t.Error("recorder did not unsubscribe on exit")
	}
}
