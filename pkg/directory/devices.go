package directory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/smsgram/smsgram/pkg/kv"
)

const devicePrefix = "device-"

// DeviceBinding records which chat owns a gateway device's traffic. It is
// only consulted when an inbound number has no PhoneBinding yet.
type DeviceBinding struct {
	ChatID string `json:"chatId"`
}

type Devices struct {
	store kv.Store
}

func NewDevices(store kv.Store) *Devices {
	return &Devices{store: store}
}

// Bind is called when the bot is invited into a topic-capable chat. Last
// bind wins; one device serves one chat.
func (d *Devices) Bind(ctx context.Context, deviceID, chatID string) error {
	payload, err := json.Marshal(DeviceBinding{ChatID: chatID})
	if err != nil {
		return err
	}
	if err := d.store.Set(ctx, devicePrefix+deviceID, string(payload)); err != nil {
		return fmt.Errorf("directory: persist device binding for %q: %w", deviceID, err)
	}
	return nil
}

// Resolve returns the chat bound to a device; kv.ErrNotFound when the bot
// was never invited anywhere for it.
func (d *Devices) Resolve(ctx context.Context, deviceID string) (string, error) {
	raw, err := d.store.Get(ctx, devicePrefix+deviceID)
	if err != nil {
		return "", err
	}

	var binding DeviceBinding
	if err := json.Unmarshal([]byte(raw), &binding); err != nil {
		return "", fmt.Errorf("directory: corrupt device binding for %q: %w", deviceID, err)
	}
	return binding.ChatID, nil
}
