package events

import (
	"context"
	"testing"
	"time"
)

func TestDispatcherDeliversToSubscriber(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "agent-1")
	defer cleanup()

	dispatcher.Publish(Event{
		UserID: "agent-1",
		Kind:   KindRankUp,
		RankUp: &RankUp{PreviousRank: "Bronze", NewRank: "Silver", TotalXP: 1100},
	})

	select {
	case received := <-stream:
		if received.Kind != KindRankUp {
			t.Fatalf("expected kind %s, got %s", KindRankUp, received.Kind)
		}
		if received.RankUp == nil || received.RankUp.NewRank != "Silver" {
			t.Fatalf("unexpected rank-up payload %#v", received.RankUp)
		}
		if received.Timestamp.IsZero() {
			t.Fatalf("expected timestamp to be stamped")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event within deadline")
	}
}

func TestDispatcherIsolatesAgents(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	agentStream, cleanup := dispatcher.Subscribe(ctx, "agent-2")
	defer cleanup()
	otherStream, otherCleanup := dispatcher.Subscribe(ctx, "agent-3")
	defer otherCleanup()

	dispatcher.Publish(Event{UserID: "agent-3", Kind: KindMissionCompleted, MissionCompleted: &MissionCompleted{MissionID: "m-1"}})

	select {
	case <-agentStream:
		t.Fatal("did not expect event for unrelated agent")
	case <-time.After(100 * time.Millisecond):
	}

	select {
	case event := <-otherStream:
		if event.UserID != "agent-3" {
			t.Fatalf("expected agent-3, got %s", event.UserID)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event for subscribed agent")
	}
}

func TestDispatcherBroadcastSubscriberSeesEveryAgent(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.SubscribeAll(ctx)
	defer cleanup()

	dispatcher.Publish(Event{UserID: "agent-4", Kind: KindRankUp})
	dispatcher.Publish(Event{UserID: "agent-5", Kind: KindRankUp})

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case event := <-stream:
			seen[event.UserID] = true
		case <-time.After(500 * time.Millisecond):
			t.Fatal("expected broadcast event")
		}
	}
	if !seen["agent-4"] || !seen["agent-5"] {
		t.Fatalf("expected events for both agents, got %v", seen)
	}
}

func TestDispatcherDropsWhenBufferFull(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "agent-6")
	defer cleanup()

	for i := 0; i < defaultBufferSize*2; i++ {
		dispatcher.Publish(Event{UserID: "agent-6", Kind: KindRankUp})
	}
	if len(stream) != defaultBufferSize {
		t.Fatalf("expected buffer to cap at %d, got %d", defaultBufferSize, len(stream))
	}
}

func TestDispatcherCleanupStopsDelivery(t *testing.T) {
	dispatcher := NewDispatcher()
	stream, cleanup := dispatcher.Subscribe(context.Background(), "agent-7")
	cleanup()
	cleanup()

	dispatcher.Publish(Event{UserID: "agent-7", Kind: KindRankUp})
	if len(stream) != 0 {
		t.Fatalf("expected no delivery after cleanup")
	}
}
