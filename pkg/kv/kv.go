// Package kv talks to a remote key-value service holding all of the bridge's
// durable state. Keys and values travel base64url-encoded inside the URL
// path; the service cannot store empty values, so cleared keys hold the
// literal sentinel "null".
package kv

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var ErrNotFound = errors.New("kv: key not found")

const clearedSentinel = "null"

// Store is the capability surface the directories and ledgers depend on.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Clear(ctx context.Context, key string) error
}

type Client struct {
	baseURL string
	appKey  string
	http    *http.Client
}

func NewClient(baseURL, appKey string) *Client {
	return &Client{
		baseURL: baseURL,
		appKey:  appKey,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	url := fmt.Sprintf("%s/api/KeyVal/GetValue/%s/%s", c.baseURL, c.appKey, encode(key))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("kv: get %q: %w", key, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("kv: get %q: %w", key, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("kv: get %q: %s", key, resp.Status)
	}

	// The service wraps the stored text in a JSON string.
	var stored string
	if err := json.Unmarshal(body, &stored); err != nil {
		return "", fmt.Errorf("kv: get %q: decode response: %w", key, err)
	}
	if stored == "" || stored == clearedSentinel {
		return "", ErrNotFound
	}

	value, err := base64.RawURLEncoding.DecodeString(stored)
	if err != nil {
		return "", fmt.Errorf("kv: get %q: decode value: %w", key, err)
	}
	return string(value), nil
}

func (c *Client) Set(ctx context.Context, key, value string) error {
	return c.post(ctx, key, encode(value))
}

func (c *Client) Clear(ctx context.Context, key string) error {
	return c.post(ctx, key, clearedSentinel)
}

func (c *Client) post(ctx context.Context, key, encodedValue string) error {
	url := fmt.Sprintf("%s/api/KeyVal/UpdateValue/%s/%s/%s", c.baseURL, c.appKey, encode(key), encodedValue)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("kv: set %q: %w", key, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("kv: set %q: %s", key, resp.Status)
	}
	return nil
}

func encode(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}
