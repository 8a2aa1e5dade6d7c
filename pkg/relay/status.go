package relay

import (
	"context"
	"errors"

	"github.com/smsgram/smsgram/pkg/kv"
	"github.com/smsgram/smsgram/pkg/logger"
)

// HandleDelivered reflects a delivery receipt onto the originating chat
// message by clearing its pending marker. Unknown ids are a no-op: the
// message may have been relayed by another deployment, and receipts may
// repeat.
func (e *Engine) HandleDelivered(ctx context.Context, gatewayID string) error {
	rec, err := e.sent.Lookup(ctx, gatewayID)
	if errors.Is(err, kv.ErrNotFound) {
		logger.DebugCF("relay", "Receipt for unknown message", map[string]interface{}{
			"gateway_id": gatewayID,
		})
		return nil
	}
	if err != nil {
		return err
	}
	return e.chat.SetReaction(ctx, rec.ChatID, rec.MessageID, reactionNone)
}

// HandleFailed marks the originating chat message as undelivered.
func (e *Engine) HandleFailed(ctx context.Context, gatewayID string) error {
	rec, err := e.sent.Lookup(ctx, gatewayID)
	if errors.Is(err, kv.ErrNotFound) {
		logger.DebugCF("relay", "Failure receipt for unknown message", map[string]interface{}{
			"gateway_id": gatewayID,
		})
		return nil
	}
	if err != nil {
		return err
	}
	return e.chat.SetReaction(ctx, rec.ChatID, rec.MessageID, reactionFailed)
}
