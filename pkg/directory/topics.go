// Package directory resolves phone numbers and gateway devices to their
// chat-side locations, persisting every binding in the kv store.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/smsgram/smsgram/pkg/kv"
	"github.com/smsgram/smsgram/pkg/logger"
	"github.com/smsgram/smsgram/pkg/phone"
)

const phonePrefix = "phone-"

// PhoneBinding locates the conversation topic for one phone number.
type PhoneBinding struct {
	ChatID   string `json:"chatId"`
	ThreadID string `json:"threadId"`
}

// TopicCreator is the single chat-platform call the directory needs.
type TopicCreator interface {
	CreateTopic(ctx context.Context, chatID, name string) (threadID string, err error)
}

type Topics struct {
	store   kv.Store
	creator TopicCreator
}

func NewTopics(store kv.Store, creator TopicCreator) *Topics {
	return &Topics{store: store, creator: creator}
}

// Resolve is a pure read; kv.ErrNotFound means no topic exists yet.
func (t *Topics) Resolve(ctx context.Context, number string) (PhoneBinding, error) {
	raw, err := t.store.Get(ctx, phonePrefix+bindingKey(number))
	if err != nil {
		return PhoneBinding{}, err
	}

	var binding PhoneBinding
	if err := json.Unmarshal([]byte(raw), &binding); err != nil {
		return PhoneBinding{}, fmt.Errorf("directory: corrupt phone binding for %q: %w", number, err)
	}
	return binding, nil
}

// CreateAndBind creates a chat topic named after the number and persists the
// resulting binding, overwriting whatever binding was there before. The chat
// id travels with every call so the key schema can grow a chat scope later.
func (t *Topics) CreateAndBind(ctx context.Context, number, chatID string) (PhoneBinding, error) {
	threadID, err := t.creator.CreateTopic(ctx, chatID, number)
	if err != nil {
		return PhoneBinding{}, fmt.Errorf("directory: create topic for %q: %w", number, err)
	}

	binding := PhoneBinding{ChatID: chatID, ThreadID: threadID}
	// Short codes and alphanumeric senders don't normalize; their binding
	// lands under the raw key, which is still good enough to deliver into.
	if err := t.Bind(ctx, number, binding); err != nil && !errors.Is(err, phone.ErrInvalidNumber) {
		return PhoneBinding{}, err
	}

	logger.InfoCF("directory", "Created topic", map[string]interface{}{
		"number":    number,
		"chat_id":   chatID,
		"thread_id": threadID,
	})
	return binding, nil
}

// Bind persists a binding for a topic that already exists on the platform
// (topic-created chat event). A name that is not a valid phone number is
// still tracked under its raw key so topic-closed can clean it up, but the
// returned phone.ErrInvalidNumber tells the caller to warn the user that
// outbound relay from this topic will fail.
func (t *Topics) Bind(ctx context.Context, number string, binding PhoneBinding) error {
	payload, err := json.Marshal(binding)
	if err != nil {
		return err
	}

	key, normErr := phone.Normalize(number)
	if normErr != nil {
		key = number
	}
	if err := t.store.Set(ctx, phonePrefix+key, string(payload)); err != nil {
		return fmt.Errorf("directory: persist phone binding for %q: %w", number, err)
	}
	return normErr
}

// Unbind clears the binding when a topic is closed, so the next inbound
// message creates a fresh topic instead of posting into a dead thread.
func (t *Topics) Unbind(ctx context.Context, name string) error {
	if err := t.store.Clear(ctx, phonePrefix+bindingKey(name)); err != nil {
		return fmt.Errorf("directory: clear phone binding for %q: %w", name, err)
	}
	return nil
}

// bindingKey canonicalizes when it can and falls back to the raw name, which
// is how invalidly named topics stay addressable.
func bindingKey(number string) string {
	key, err := phone.Normalize(number)
	if err != nil {
		return number
	}
	return key
}
