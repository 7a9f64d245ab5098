package stream

import (
	"context"
	"testing"
	"time"

	"slotwise.org/internal/auth"
)

func TestBurstCoalescesIntoOneEvent(t *testing.T) {
	s := New(WithInterval(30 * time.Millisecond))
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := s.Subscribe(ctx)

	for i := 0; i < 5; i++ {
		s.Notify(auth.ChangeEvent{Resource: "users", Action: "updated", ID: "u-5"})
	}

	select {
	case evt := <-ch:
		if evt.Resource != "users" {
			t.Fatalf("resource = %q, want users", evt.Resource)
		}
		if evt.Changes != 5 {
			t.Fatalf("changes = %d, want 5", evt.Changes)
		}
		if evt.LastID != "u-5" {
			t.Fatalf("last_id = %q, want u-5", evt.LastID)
		}
	case <-time.After(time.Second):
		t.Fatal("no event within the deadline")
	}

	// The burst collapsed; nothing else arrives.
	select {
	case evt := <-ch:
		t.Fatalf("unexpected second event %+v", evt)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestResourcesDebounceIndependently(t *testing.T) {
	s := New(WithInterval(30 * time.Millisecond))
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := s.Subscribe(ctx)

	s.Notify(auth.ChangeEvent{Resource: "users", Action: "created", ID: "u-1"})
	s.Notify(auth.ChangeEvent{Resource: "roles", Action: "created", ID: "r-1"})

	got := map[string]int{}
	for i := 0; i < 2; i++ {
		select {
		case evt := <-ch:
			got[evt.Resource] = evt.Changes
		case <-time.After(time.Second):
			t.Fatalf("only %d of 2 events arrived", i)
		}
	}
	if got["users"] != 1 || got["roles"] != 1 {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestSubscriberDetachesOnContextCancel(t *testing.T) {
	s := New(WithInterval(10 * time.Millisecond))
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx)
	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, open := <-ch:
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after cancel")
		}
	}
}

func TestNotifyAfterCloseIsSafe(t *testing.T) {
	s := New(WithInterval(10 * time.Millisecond))
	s.Notify(auth.ChangeEvent{Resource: "users", Action: "created", ID: "u-1"})
	s.Close()
	s.Notify(auth.ChangeEvent{Resource: "users", Action: "created", ID: "u-2"})
}
