package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/smsgram/smsgram/pkg/directory"
	"github.com/smsgram/smsgram/pkg/logger"
	"github.com/smsgram/smsgram/pkg/phone"
	"github.com/smsgram/smsgram/pkg/relay"
	"github.com/smsgram/smsgram/pkg/smsgw"
)

const welcomeText = `Telegram ↔ SMS

To start you can:

- Wait for someone to send you an SMS, it will create a topic with their phone number.
- Create a topic with a phone number as a name, you can rename it later.

Don't forget to give this bot admin "topic" rights.`

const startText = `Telegram ↔ SMS

Register your hosted webhook url with
/register_webhook https://<your_api_url>/sms-webhook

Then add this bot to a group with topics!`

const invalidTopicNameText = `⚠️ The topic name is not a valid phone number.
You won't be able to send messages to it.

If you made a typo in the number, delete and recreate the topic (renaming won't work).
Make sure your number is in a valid international format (starts with +).`

// gateway is the slice of the SMS gateway the bot's command surface needs.
type gateway interface {
	Webhooks(ctx context.Context) ([]smsgw.Webhook, error)
	Register(ctx context.Context, url, event string) error
	Unregister(ctx context.Context, id string) error
	FirstDeviceID(ctx context.Context) (string, error)
}

// Bot consumes chat events and drives the relay engine's outbound path.
type Bot struct {
	bot     *telego.Bot
	engine  *relay.Engine
	topics  *directory.Topics
	devices *directory.Devices
	gateway gateway
	selfID  int64
}

func NewBot(client *Client, engine *relay.Engine, topics *directory.Topics, devices *directory.Devices, gw gateway) *Bot {
	return &Bot{
		bot:     client.bot,
		engine:  engine,
		topics:  topics,
		devices: devices,
		gateway: gw,
	}
}

func (b *Bot) Start(ctx context.Context) error {
	logger.InfoC("telegram", "Starting Telegram bot (polling mode)...")

	me, err := b.bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("failed to identify bot: %w", err)
	}
	b.selfID = me.ID

	updates, err := b.bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout: 30,
	})
	if err != nil {
		return fmt.Errorf("failed to start long polling: %w", err)
	}

	logger.InfoCF("telegram", "Telegram bot connected", map[string]interface{}{
		"username": me.Username,
	})

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					logger.InfoC("telegram", "Updates channel closed")
					return
				}
				b.handleUpdate(ctx, update)
			}
		}
	}()

	return nil
}

func (b *Bot) handleUpdate(ctx context.Context, update telego.Update) {
	switch {
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	case update.EditedMessage != nil:
		b.handleTopicMessage(ctx, update.EditedMessage, true)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *telego.Message) {
	switch {
	case b.isSelfInvite(msg):
		b.handleInvited(ctx, msg)
	case msg.ForumTopicCreated != nil:
		b.handleTopicCreated(ctx, msg)
	case msg.ForumTopicClosed != nil:
		b.handleTopicClosed(ctx, msg)
	case strings.HasPrefix(msg.Text, "/"):
		b.handleCommand(ctx, msg)
	case msg.Text != "":
		b.handleTopicMessage(ctx, msg, false)
	}
}

func (b *Bot) isSelfInvite(msg *telego.Message) bool {
	for _, member := range msg.NewChatMembers {
		if member.ID == b.selfID {
			return true
		}
	}
	return false
}

// handleInvited binds the gateway device to this chat so that inbound
// messages from unknown numbers know where their topic should go.
func (b *Bot) handleInvited(ctx context.Context, msg *telego.Message) {
	if !isForum(msg) {
		b.send(ctx, msg.Chat.ID, 0, "You need to add this bot to a supergroup with topics!")
		return
	}

	deviceID, err := b.gateway.FirstDeviceID(ctx)
	if err != nil {
		logger.ErrorCF("telegram", "Failed to resolve gateway device", map[string]interface{}{
			"error": err.Error(),
		})
		b.send(ctx, msg.Chat.ID, 0, "I could not reach the SMS gateway to find your device. Check the gateway credentials and reinvite me.")
		return
	}

	if err := b.devices.Bind(ctx, deviceID, chatIDString(msg)); err != nil {
		logger.ErrorCF("telegram", "Failed to bind device", map[string]interface{}{
			"device_id": deviceID,
			"error":     err.Error(),
		})
		return
	}

	logger.InfoCF("telegram", "Device bound to chat", map[string]interface{}{
		"device_id": deviceID,
		"chat_id":   msg.Chat.ID,
	})
	b.send(ctx, msg.Chat.ID, 0, welcomeText)
}

// handleTopicCreated validates the topic name as a phone number right away,
// so the user hears about a typo while they are still looking at the topic.
func (b *Bot) handleTopicCreated(ctx context.Context, msg *telego.Message) {
	name := msg.ForumTopicCreated.Name
	binding := directory.PhoneBinding{
		ChatID:   chatIDString(msg),
		ThreadID: strconv.Itoa(msg.MessageThreadID),
	}

	err := b.topics.Bind(ctx, name, binding)
	switch {
	case errors.Is(err, phone.ErrInvalidNumber):
		b.send(ctx, msg.Chat.ID, msg.MessageThreadID, invalidTopicNameText)
	case err != nil:
		logger.ErrorCF("telegram", "Failed to bind topic", map[string]interface{}{
			"name":  name,
			"error": err.Error(),
		})
	default:
		b.send(ctx, msg.Chat.ID, msg.MessageThreadID,
			fmt.Sprintf("This will be your conversation with %s.\n\nYou can now rename the topic to the right contact name.", name))
	}
}

func (b *Bot) handleTopicClosed(ctx context.Context, msg *telego.Message) {
	name := topicName(msg)
	if name == "" {
		logger.DebugC("telegram", "Topic closed without a resolvable name, skipping unbind")
		return
	}
	if err := b.topics.Unbind(ctx, name); err != nil {
		logger.ErrorCF("telegram", "Failed to unbind closed topic", map[string]interface{}{
			"name":  name,
			"error": err.Error(),
		})
	}
}

// handleTopicMessage relays a user message typed inside a phone-bound topic
// out to the gateway.
func (b *Bot) handleTopicMessage(ctx context.Context, msg *telego.Message, edited bool) {
	if msg.Text == "" {
		return
	}
	if !isForum(msg) {
		b.send(ctx, msg.Chat.ID, 0, "You need to add this bot to a supergroup with topics!")
		return
	}

	name := topicName(msg)
	if name == "" {
		b.send(ctx, msg.Chat.ID, msg.MessageThreadID, "You need to talk inside a topic.")
		return
	}

	err := b.engine.RelayOutbound(ctx, relay.OutboundMessage{
		ChatID:    chatIDString(msg),
		MessageID: strconv.Itoa(msg.MessageID),
		TopicName: name,
		Text:      msg.Text,
		Edited:    edited,
	})
	if errors.Is(err, phone.ErrInvalidNumber) {
		b.send(ctx, msg.Chat.ID, msg.MessageThreadID,
			"This topic's name is not a valid phone number, so I cannot send SMS from it. Delete and recreate the topic with a valid international number.")
	} else if err != nil {
		// The engine already marked the message as failed.
		logger.ErrorCF("telegram", "Outbound relay failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (b *Bot) send(ctx context.Context, chatID int64, threadID int, text string) {
	msg := tu.Message(tu.ID(chatID), text)
	msg.MessageThreadID = threadID
	if _, err := b.bot.SendMessage(ctx, msg); err != nil {
		logger.WarnCF("telegram", "Failed to send message", map[string]interface{}{
			"chat_id": chatID,
			"error":   err.Error(),
		})
	}
}

func isForum(msg *telego.Message) bool {
	return msg.Chat.Type == "supergroup" && msg.Chat.IsForum
}

// topicName digs the topic's name out of the service message every topic
// message replies to. Empty when the message is not inside a topic.
func topicName(msg *telego.Message) string {
	if msg.ReplyToMessage == nil || msg.ReplyToMessage.ForumTopicCreated == nil {
		return ""
	}
	return msg.ReplyToMessage.ForumTopicCreated.Name
}

func chatIDString(msg *telego.Message) string {
	return strconv.FormatInt(msg.Chat.ID, 10)
}
