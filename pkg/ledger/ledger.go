// Package ledger keeps the per-message bookkeeping: which inbound gateway
// messages were already processed, and which chat message each outbound SMS
// came from.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/smsgram/smsgram/pkg/kv"
)

const (
	receivedPrefix = "message-"
	sentPrefix     = "sent-message-"
)

// ReceivedGuard deduplicates redelivered gateway events. The record is a
// permanent tombstone: written once, never updated, never deleted. The
// check-then-mark pair is not atomic against the store; concurrent
// redelivery of the same id can slip through and produce one duplicate chat
// message, which is accepted.
type ReceivedGuard struct {
	store kv.Store
}

func NewReceivedGuard(store kv.Store) *ReceivedGuard {
	return &ReceivedGuard{store: store}
}

func (g *ReceivedGuard) AlreadyProcessed(ctx context.Context, messageID string) (bool, error) {
	_, err := g.store.Get(ctx, receivedPrefix+messageID)
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ledger: check received %q: %w", messageID, err)
	}
	return true, nil
}

func (g *ReceivedGuard) MarkProcessed(ctx context.Context, messageID, receivedAt string) error {
	payload, err := json.Marshal(struct {
		ReceivedAt string `json:"receivedAt"`
	}{ReceivedAt: receivedAt})
	if err != nil {
		return err
	}
	if err := g.store.Set(ctx, receivedPrefix+messageID, string(payload)); err != nil {
		return fmt.Errorf("ledger: mark received %q: %w", messageID, err)
	}
	return nil
}

// SentRecord points a gateway message id back at the chat message it
// relayed, so delivery receipts can be reflected onto it.
type SentRecord struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
}

// SentLedger records one entry per outbound SMS. Entries stay in place after
// first use because the gateway may legitimately repeat receipts.
type SentLedger struct {
	store kv.Store
}

func NewSentLedger(store kv.Store) *SentLedger {
	return &SentLedger{store: store}
}

func (l *SentLedger) Record(ctx context.Context, gatewayID string, rec SentRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := l.store.Set(ctx, sentPrefix+gatewayID, string(payload)); err != nil {
		return fmt.Errorf("ledger: record sent %q: %w", gatewayID, err)
	}
	return nil
}

func (l *SentLedger) Lookup(ctx context.Context, gatewayID string) (SentRecord, error) {
	raw, err := l.store.Get(ctx, sentPrefix+gatewayID)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return SentRecord{}, err
		}
		return SentRecord{}, fmt.Errorf("ledger: lookup sent %q: %w", gatewayID, err)
	}

	var rec SentRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return SentRecord{}, fmt.Errorf("ledger: corrupt sent record %q: %w", gatewayID, err)
	}
	return rec, nil
}
