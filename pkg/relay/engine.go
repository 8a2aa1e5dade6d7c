// Package relay is the bridge's orchestrator: it decides which topic every
// message belongs to, creates topics on demand, recovers from topics deleted
// out-of-band, and keeps externally redelivered events at-most-once.
package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/smsgram/smsgram/pkg/directory"
	"github.com/smsgram/smsgram/pkg/kv"
	"github.com/smsgram/smsgram/pkg/ledger"
	"github.com/smsgram/smsgram/pkg/logger"
	"github.com/smsgram/smsgram/pkg/phone"
)

// ErrStaleThread marks a chat-send failure caused by the target topic having
// been deleted on the platform. The chat implementation wraps it so the
// engine can recover by recreating the topic.
var ErrStaleThread = errors.New("relay: topic thread no longer exists")

// ErrNoRoute means an inbound message has neither a phone binding nor a
// device binding; no chat is known for this traffic and an operator has to
// fix the bindings before the gateway redelivers.
var ErrNoRoute = errors.New("relay: no chat known for this device")

// Chat is the platform capability surface the engine drives.
type Chat interface {
	SendMessage(ctx context.Context, chatID, threadID, text string) error
	CreateTopic(ctx context.Context, chatID, name string) (threadID string, err error)
	SetReaction(ctx context.Context, chatID, messageID, emoji string) error
}

// Gateway sends one SMS and returns the gateway-assigned message id.
type Gateway interface {
	SendSMS(ctx context.Context, to, text string) (messageID string, err error)
}

// Status reaction markers on relayed chat messages. An empty emoji clears
// whatever marker is set.
const (
	reactionPending = "✍"
	reactionFailed  = "👎"
	reactionNone    = ""
)

type Engine struct {
	chat    Chat
	gateway Gateway
	topics  *directory.Topics
	devices *directory.Devices
	guard   *ledger.ReceivedGuard
	sent    *ledger.SentLedger
}

func NewEngine(
	chat Chat,
	gateway Gateway,
	topics *directory.Topics,
	devices *directory.Devices,
	guard *ledger.ReceivedGuard,
	sent *ledger.SentLedger,
) *Engine {
	return &Engine{
		chat:    chat,
		gateway: gateway,
		topics:  topics,
		devices: devices,
		guard:   guard,
		sent:    sent,
	}
}

// InboundSMS is one gateway delivery, already narrowed at the webhook
// boundary.
type InboundSMS struct {
	MessageID   string
	PhoneNumber string
	Text        string
	DeviceID    string
	ReceivedAt  string
}

// InboundResult is the terminal state of one inbound event.
type InboundResult int

const (
	Delivered InboundResult = iota
	Deduped
)

// HandleInboundSMS runs one inbound event through dedup, topic resolution
// and delivery. The processed mark is written once routing succeeds, before
// the delivery attempt: an unroutable event stays unmarked so the gateway
// can redeliver it once a binding exists, and a crash between mark and
// delivery drops that one message, whereas marking after delivery would let
// a crash turn into an endless redelivery loop.
func (e *Engine) HandleInboundSMS(ctx context.Context, in InboundSMS) (InboundResult, error) {
	return e.deliverInbound(ctx, in, in.Text)
}

// HandleInboundMMS relays a placeholder note; the gateway does not carry MMS
// content through the webhook.
func (e *Engine) HandleInboundMMS(ctx context.Context, in InboundSMS) (InboundResult, error) {
	return e.deliverInbound(ctx, in, "You received an MMS, unfortunately this bridge cannot display it here.")
}

func (e *Engine) deliverInbound(ctx context.Context, in InboundSMS, text string) (InboundResult, error) {
	corr := uuid.NewString()

	seen, err := e.guard.AlreadyProcessed(ctx, in.MessageID)
	if err != nil {
		return 0, err
	}
	if seen {
		logger.InfoCF("relay", "Duplicate delivery, skipping", map[string]interface{}{
			"correlation_id": corr,
			"message_id":     in.MessageID,
		})
		return Deduped, nil
	}

	binding, err := e.topics.Resolve(ctx, in.PhoneNumber)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		chatID, devErr := e.devices.Resolve(ctx, in.DeviceID)
		if errors.Is(devErr, kv.ErrNotFound) {
			logger.ErrorCF("relay", "No binding for inbound message", map[string]interface{}{
				"correlation_id": corr,
				"message_id":     in.MessageID,
				"device_id":      in.DeviceID,
			})
			return 0, fmt.Errorf("%w (device %s)", ErrNoRoute, in.DeviceID)
		}
		if devErr != nil {
			return 0, devErr
		}

		logger.DebugCF("relay", "Thread not known, creating topic", map[string]interface{}{
			"correlation_id": corr,
			"chat_id":        chatID,
		})
		binding, err = e.topics.CreateAndBind(ctx, in.PhoneNumber, chatID)
		if err != nil {
			return 0, err
		}
	case err != nil:
		return 0, err
	default:
		logger.DebugCF("relay", "Thread known, forwarding", map[string]interface{}{
			"correlation_id": corr,
			"chat_id":        binding.ChatID,
			"thread_id":      binding.ThreadID,
		})
	}

	if err := e.guard.MarkProcessed(ctx, in.MessageID, in.ReceivedAt); err != nil {
		return 0, err
	}

	sendErr := e.chat.SendMessage(ctx, binding.ChatID, binding.ThreadID, text)
	if errors.Is(sendErr, ErrStaleThread) {
		// The topic was deleted out-of-band. Recreate it once, overwriting
		// the stale binding, and retry exactly once.
		logger.WarnCF("relay", "Stale thread, recreating topic", map[string]interface{}{
			"correlation_id": corr,
			"chat_id":        binding.ChatID,
			"thread_id":      binding.ThreadID,
		})
		binding, sendErr = e.topics.CreateAndBind(ctx, in.PhoneNumber, binding.ChatID)
		if sendErr == nil {
			sendErr = e.chat.SendMessage(ctx, binding.ChatID, binding.ThreadID, text)
		}
	}
	if sendErr != nil {
		logger.ErrorCF("relay", "Inbound delivery failed", map[string]interface{}{
			"correlation_id": corr,
			"message_id":     in.MessageID,
			"error":          sendErr.Error(),
		})
		return 0, sendErr
	}

	return Delivered, nil
}

// OutboundMessage is a chat message typed inside a phone-bound topic.
type OutboundMessage struct {
	ChatID    string
	MessageID string
	TopicName string
	Text      string
	Edited    bool
}

// RelayOutbound forwards a topic message to the gateway. On success the
// originating chat message gets a pending marker and a sent-message record;
// on failure it gets a failure marker.
func (e *Engine) RelayOutbound(ctx context.Context, msg OutboundMessage) error {
	to, err := phone.Normalize(msg.TopicName)
	if err != nil {
		e.setReaction(ctx, msg.ChatID, msg.MessageID, reactionFailed)
		return err
	}

	text := msg.Text
	if msg.Edited {
		// Flag corrected content for the SMS recipient.
		text += "*"
	}

	gatewayID, err := e.gateway.SendSMS(ctx, to, text)
	if err != nil {
		logger.ErrorCF("relay", "SMS send failed", map[string]interface{}{
			"to":    to,
			"error": err.Error(),
		})
		e.setReaction(ctx, msg.ChatID, msg.MessageID, reactionFailed)
		return err
	}

	logger.InfoCF("relay", "SMS sent", map[string]interface{}{
		"to":         to,
		"gateway_id": gatewayID,
	})

	if err := e.sent.Record(ctx, gatewayID, ledger.SentRecord{
		ChatID:    msg.ChatID,
		MessageID: msg.MessageID,
	}); err != nil {
		// The SMS is out; a missing ledger entry only costs the receipt
		// marker later.
		logger.WarnCF("relay", "Failed to record sent message", map[string]interface{}{
			"gateway_id": gatewayID,
			"error":      err.Error(),
		})
	}

	e.setReaction(ctx, msg.ChatID, msg.MessageID, reactionPending)
	return nil
}

func (e *Engine) setReaction(ctx context.Context, chatID, messageID, emoji string) {
	if err := e.chat.SetReaction(ctx, chatID, messageID, emoji); err != nil {
		logger.WarnCF("relay", "Failed to set reaction", map[string]interface{}{
			"chat_id":    chatID,
			"message_id": messageID,
			"error":      err.Error(),
		})
	}
}
