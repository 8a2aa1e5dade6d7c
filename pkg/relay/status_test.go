package relay

import (
	"context"
	"testing"

	"github.com/smsgram/smsgram/pkg/ledger"
)

func TestHandleDeliveredClearsMarker(t *testing.T) {
	store := newMemStore()
	chat := &fakeChat{}
	engine := newTestEngine(store, chat, &fakeGateway{})
	ctx := context.Background()

	sent := ledger.NewSentLedger(store)
	if err := sent.Record(ctx, "gw-1", ledger.SentRecord{ChatID: "c1", MessageID: "7"}); err != nil {
		t.Fatalf("seed sent record: %v", err)
	}

	if err := engine.HandleDelivered(ctx, "gw-1"); err != nil {
		t.Fatalf("handle delivered: %v", err)
	}
	if len(chat.reactions) != 1 {
		t.Fatalf("reactions = %+v", chat.reactions)
	}
	got := chat.reactions[0]
	if got.ChatID != "c1" || got.MessageID != "7" || got.Emoji != reactionNone {
		t.Fatalf("reaction = %+v, want cleared marker on c1/7", got)
	}
}

func TestHandleFailedSetsFailureMarker(t *testing.T) {
	store := newMemStore()
	chat := &fakeChat{}
	engine := newTestEngine(store, chat, &fakeGateway{})
	ctx := context.Background()

	sent := ledger.NewSentLedger(store)
	if err := sent.Record(ctx, "gw-1", ledger.SentRecord{ChatID: "c1", MessageID: "7"}); err != nil {
		t.Fatalf("seed sent record: %v", err)
	}

	if err := engine.HandleFailed(ctx, "gw-1"); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if len(chat.reactions) != 1 || chat.reactions[0].Emoji != reactionFailed {
		t.Fatalf("reactions = %+v, want failure marker", chat.reactions)
	}
}

func TestHandleDeliveredUnknownIDIsNoop(t *testing.T) {
	chat := &fakeChat{}
	engine := newTestEngine(newMemStore(), chat, &fakeGateway{})

	if err := engine.HandleDelivered(context.Background(), "ghost"); err != nil {
		t.Fatalf("unknown id must be a no-op, got %v", err)
	}
	if len(chat.reactions) != 0 {
		t.Fatalf("no chat call expected, reactions = %+v", chat.reactions)
	}
}

func TestHandleDeliveredRepeatsAreIdempotent(t *testing.T) {
	store := newMemStore()
	chat := &fakeChat{}
	engine := newTestEngine(store, chat, &fakeGateway{})
	ctx := context.Background()

	sent := ledger.NewSentLedger(store)
	if err := sent.Record(ctx, "gw-1", ledger.SentRecord{ChatID: "c1", MessageID: "7"}); err != nil {
		t.Fatalf("seed sent record: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := engine.HandleDelivered(ctx, "gw-1"); err != nil {
			t.Fatalf("repeat %d: %v", i, err)
		}
	}
	// Reapplying the same reaction is harmless; the record stays in place.
	if len(chat.reactions) != 3 {
		t.Fatalf("reactions = %+v", chat.reactions)
	}
}
