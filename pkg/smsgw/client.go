// Package smsgw wraps the android-sms-gateway API behind the few calls the
// bridge makes, so everything above it can depend on small interfaces.
package smsgw

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/android-sms-gateway/client-go/smsgateway"

	"github.com/smsgram/smsgram/pkg/config"
	"github.com/smsgram/smsgram/pkg/logger"
)

// Webhook event names as the gateway spells them.
const (
	EventSMSReceived  = "sms:received"
	EventSMSDelivered = "sms:delivered"
	EventSMSFailed    = "sms:failed"
	EventMMSReceived  = "mms:received"
)

// Events is every subscription the bridge needs registered.
var Events = []string{EventSMSReceived, EventSMSDelivered, EventSMSFailed, EventMMSReceived}

type Webhook struct {
	ID    string
	URL   string
	Event string
}

type Client struct {
	api *smsgateway.Client
}

func New(cfg config.GatewayConfig) *Client {
	api := smsgateway.NewClient(smsgateway.Config{
		BaseURL:  cfg.URL,
		User:     cfg.Username,
		Password: cfg.Password,
		Client:   &http.Client{Timeout: 30 * time.Second},
	})
	return &Client{api: api}
}

// SendSMS sends one message with a delivery report requested and returns the
// gateway-assigned message id.
func (c *Client) SendSMS(ctx context.Context, to, text string) (string, error) {
	withReport := true
	state, err := c.api.Send(ctx, smsgateway.Message{
		Message:            text,
		PhoneNumbers:       []string{to},
		WithDeliveryReport: &withReport,
	})
	if err != nil {
		return "", fmt.Errorf("smsgw: send to %s: %w", to, err)
	}

	logger.DebugCF("smsgw", "SMS handed to gateway", map[string]interface{}{
		"to":         to,
		"gateway_id": state.ID,
	})
	return state.ID, nil
}

func (c *Client) Webhooks(ctx context.Context) ([]Webhook, error) {
	hooks, err := c.api.ListWebhooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("smsgw: list webhooks: %w", err)
	}

	out := make([]Webhook, 0, len(hooks))
	for _, h := range hooks {
		out = append(out, Webhook{ID: h.ID, URL: h.URL, Event: string(h.Event)})
	}
	return out, nil
}

func (c *Client) Register(ctx context.Context, url, event string) error {
	_, err := c.api.RegisterWebhook(ctx, smsgateway.Webhook{
		URL:   url,
		Event: smsgateway.WebhookEvent(event),
	})
	if err != nil {
		return fmt.Errorf("smsgw: register webhook %s for %s: %w", url, event, err)
	}
	return nil
}

func (c *Client) Unregister(ctx context.Context, id string) error {
	if err := c.api.DeleteWebhook(ctx, id); err != nil {
		return fmt.Errorf("smsgw: delete webhook %s: %w", id, err)
	}
	return nil
}

// FirstDeviceID returns the id of the gateway's first active device. One
// device per deployment; more than one is not supported.
func (c *Client) FirstDeviceID(ctx context.Context) (string, error) {
	devices, err := c.api.ListDevices(ctx)
	if err != nil {
		return "", fmt.Errorf("smsgw: list devices: %w", err)
	}
	for _, d := range devices {
		if d.DeletedAt == nil {
			return d.ID, nil
		}
	}
	return "", errors.New("smsgw: no active devices found")
}
