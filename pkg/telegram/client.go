// Package telegram holds the chat-platform side of the bridge: a thin client
// used by the relay engine and the bot event loop feeding it.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/smsgram/smsgram/pkg/relay"
)

// Client implements the engine's Chat capability and the directory's
// TopicCreator on top of telego.
type Client struct {
	bot *telego.Bot
}

func NewClient(token string) (*Client, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &Client{bot: bot}, nil
}

func (c *Client) SendMessage(ctx context.Context, chatID, threadID, text string) error {
	chat, err := parseChatID(chatID)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}
	thread, err := strconv.Atoi(threadID)
	if err != nil {
		return fmt.Errorf("invalid thread ID %q: %w", threadID, err)
	}

	msg := tu.Message(tu.ID(chat), text)
	msg.MessageThreadID = thread

	if _, err := c.bot.SendMessage(ctx, msg); err != nil {
		if isThreadNotFound(err) {
			return fmt.Errorf("telegram: send to thread %s: %w", threadID, relay.ErrStaleThread)
		}
		return fmt.Errorf("telegram: send to thread %s: %w", threadID, err)
	}
	return nil
}

func (c *Client) CreateTopic(ctx context.Context, chatID, name string) (string, error) {
	chat, err := parseChatID(chatID)
	if err != nil {
		return "", fmt.Errorf("invalid chat ID: %w", err)
	}

	topic, err := c.bot.CreateForumTopic(ctx, &telego.CreateForumTopicParams{
		ChatID: tu.ID(chat),
		Name:   name,
	})
	if err != nil {
		return "", fmt.Errorf("telegram: create topic %q: %w", name, err)
	}
	return strconv.Itoa(topic.MessageThreadID), nil
}

// SetReaction replaces the reaction set on a message; an empty emoji clears
// it.
func (c *Client) SetReaction(ctx context.Context, chatID, messageID, emoji string) error {
	chat, err := parseChatID(chatID)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("invalid message ID %q: %w", messageID, err)
	}

	params := &telego.SetMessageReactionParams{
		ChatID:    tu.ID(chat),
		MessageID: msgID,
	}
	if emoji != "" {
		params.Reaction = []telego.ReactionType{
			&telego.ReactionTypeEmoji{Type: telego.ReactionEmoji, Emoji: emoji},
		}
	}

	if err := c.bot.SetMessageReaction(ctx, params); err != nil {
		return fmt.Errorf("telegram: set reaction on %s: %w", messageID, err)
	}
	return nil
}

// isThreadNotFound matches the platform error raised when posting into a
// topic that was deleted out-of-band.
func isThreadNotFound(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "thread not found")
}

func parseChatID(chatIDStr string) (int64, error) {
	var id int64
	_, err := fmt.Sscanf(chatIDStr, "%d", &id)
	return id, err
}
