package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"

	"github.com/smsgram/smsgram/pkg/logger"
	"github.com/smsgram/smsgram/pkg/smsgw"
)

var errWebhookNotFound = errors.New("webhook not found")

func (b *Bot) handleCommand(ctx context.Context, msg *telego.Message) {
	command, args := splitCommand(msg.Text)

	switch command {
	case "/start":
		b.handleStart(ctx, msg)
	case "/register_webhook":
		b.handleRegisterWebhook(ctx, msg, args)
	case "/list_webhooks":
		b.handleListWebhooks(ctx, msg)
	case "/delete_webhook":
		b.handleDeleteWebhook(ctx, msg, args)
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *telego.Message) {
	err := b.bot.SetMyCommands(ctx, &telego.SetMyCommandsParams{
		Commands: []telego.BotCommand{
			{Command: "register_webhook", Description: "Listen on url for sms events"},
			{Command: "list_webhooks", Description: "List all webhook urls"},
			{Command: "delete_webhook", Description: "Remove a single url from registered webhooks"},
		},
	})
	if err != nil {
		logger.WarnCF("telegram", "Failed to register commands", map[string]interface{}{
			"error": err.Error(),
		})
	}
	b.send(ctx, msg.Chat.ID, 0, startText)
}

func (b *Bot) handleRegisterWebhook(ctx context.Context, msg *telego.Message, args string) {
	const usage = "Call this command with your webhook url (https://<your_api_url>/sms-webhook)"

	if args == "" {
		b.send(ctx, msg.Chat.ID, 0, usage)
		return
	}

	u, err := url.Parse(args)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		b.send(ctx, msg.Chat.ID, 0, "URL is not valid, please call this command with your webhook url (https://<your_api_url>/sms-webhook)")
		return
	}

	for _, event := range smsgw.Events {
		if err := b.gateway.Register(ctx, u.String(), event); err != nil {
			logger.ErrorCF("telegram", "Webhook registration failed", map[string]interface{}{
				"url":   u.String(),
				"event": event,
				"error": err.Error(),
			})
			b.send(ctx, msg.Chat.ID, 0, "Registration failed, check the gateway credentials and try again.")
			return
		}
	}
	b.send(ctx, msg.Chat.ID, 0, "URL registered ✅")
}

func (b *Bot) handleListWebhooks(ctx context.Context, msg *telego.Message) {
	hooks, err := b.gateway.Webhooks(ctx)
	if err != nil {
		logger.ErrorCF("telegram", "Failed to list webhooks", map[string]interface{}{
			"error": err.Error(),
		})
		b.send(ctx, msg.Chat.ID, 0, "Could not reach the gateway to list webhooks.")
		return
	}

	urls := uniqueSortedURLs(hooks)
	if len(urls) == 0 {
		b.send(ctx, msg.Chat.ID, 0, "No webhooks registered yet. Register one with /register_webhook <url>")
		return
	}

	var sb strings.Builder
	sb.WriteString("Your registered webhooks\n")
	for i, u := range urls {
		fmt.Fprintf(&sb, "- (%d) %s\n", i+1, u)
	}
	sb.WriteString("\nYou can delete them with /delete_webhook <number/url>")
	b.send(ctx, msg.Chat.ID, 0, sb.String())
}

func (b *Bot) handleDeleteWebhook(ctx context.Context, msg *telego.Message, args string) {
	if args == "" {
		b.send(ctx, msg.Chat.ID, 0, "Call this command with a webhook url or a number (given by /list_webhooks)")
		return
	}

	hooks, err := b.gateway.Webhooks(ctx)
	if err != nil {
		logger.ErrorCF("telegram", "Failed to list webhooks", map[string]interface{}{
			"error": err.Error(),
		})
		b.send(ctx, msg.Chat.ID, 0, "Could not reach the gateway to list webhooks.")
		return
	}

	ids, err := selectWebhookIDs(hooks, args)
	if err != nil {
		b.send(ctx, msg.Chat.ID, 0, "Webhook not found")
		return
	}

	for _, id := range ids {
		if err := b.gateway.Unregister(ctx, id); err != nil {
			logger.ErrorCF("telegram", "Webhook deletion failed", map[string]interface{}{
				"id":    id,
				"error": err.Error(),
			})
			b.send(ctx, msg.Chat.ID, 0, "Deletion failed, try again.")
			return
		}
	}
	b.send(ctx, msg.Chat.ID, 0, "URL deleted ❎")
}

// splitCommand separates "/cmd@botname args" into "/cmd" and "args".
func splitCommand(text string) (string, string) {
	command, args, _ := strings.Cut(text, " ")
	command, _, _ = strings.Cut(command, "@")
	return command, strings.TrimSpace(args)
}

// uniqueSortedURLs flattens the per-event webhook entries into the URL list
// shown to (and indexed by) the user.
func uniqueSortedURLs(hooks []smsgw.Webhook) []string {
	seen := map[string]bool{}
	urls := []string{}
	for _, h := range hooks {
		if !seen[h.URL] {
			seen[h.URL] = true
			urls = append(urls, h.URL)
		}
	}
	sort.Strings(urls)
	return urls
}

// selectWebhookIDs resolves a user-supplied URL or 1-based list index to the
// gateway webhook ids registered for that URL (one per event).
func selectWebhookIDs(hooks []smsgw.Webhook, entry string) ([]string, error) {
	target := entry
	if n, err := strconv.Atoi(entry); err == nil {
		urls := uniqueSortedURLs(hooks)
		if n < 1 || n > len(urls) {
			return nil, errWebhookNotFound
		}
		target = urls[n-1]
	}

	var ids []string
	for _, h := range hooks {
		if h.URL == target && h.ID != "" {
			ids = append(ids, h.ID)
		}
	}
	if len(ids) == 0 {
		return nil, errWebhookNotFound
	}
	return ids, nil
}
