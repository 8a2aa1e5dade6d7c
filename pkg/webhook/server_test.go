package webhook

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/smsgram/smsgram/pkg/directory"
	"github.com/smsgram/smsgram/pkg/kv"
	"github.com/smsgram/smsgram/pkg/ledger"
	"github.com/smsgram/smsgram/pkg/relay"
)

type memStore struct {
	values map[string]string
}

func newMemStore() *memStore {
	return &memStore{values: map[string]string{}}
}

func (m *memStore) Get(ctx context.Context, key string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", kv.ErrNotFound
	}
	return v, nil
}

func (m *memStore) Set(ctx context.Context, key, value string) error {
	m.values[key] = value
	return nil
}

func (m *memStore) Clear(ctx context.Context, key string) error {
	delete(m.values, key)
	return nil
}

type fakeChat struct {
	created   int
	sends     []string // "chatID/threadID: text"
	reactions []string // "chatID/messageID: emoji"
}

func (f *fakeChat) SendMessage(ctx context.Context, chatID, threadID, text string) error {
	f.sends = append(f.sends, fmt.Sprintf("%s/%s: %s", chatID, threadID, text))
	return nil
}

func (f *fakeChat) CreateTopic(ctx context.Context, chatID, name string) (string, error) {
	f.created++
	return fmt.Sprintf("%d", 100+f.created), nil
}

func (f *fakeChat) SetReaction(ctx context.Context, chatID, messageID, emoji string) error {
	f.reactions = append(f.reactions, fmt.Sprintf("%s/%s: %s", chatID, messageID, emoji))
	return nil
}

type fakeGateway struct{}

func (fakeGateway) SendSMS(ctx context.Context, to, text string) (string, error) {
	return "gw-1", nil
}

func newTestServer(t *testing.T, store kv.Store, chat *fakeChat) *httptest.Server {
	t.Helper()
	engine := relay.NewEngine(
		chat,
		fakeGateway{},
		directory.NewTopics(store, chat),
		directory.NewDevices(store),
		ledger.NewReceivedGuard(store),
		ledger.NewSentLedger(store),
	)
	srv := httptest.NewServer(NewServer(engine).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postEvent(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url+"/sms-webhook", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	return resp
}

const receivedEvent = `{
	"deviceId": "d1",
	"event": "sms:received",
	"id": "evt-1",
	"webhookId": "w1",
	"payload": {
		"message": "hi",
		"phoneNumber": "+15551234567",
		"messageId": "m1",
		"receivedAt": "t0",
		"simNumber": 1
	}
}`

func TestSMSReceivedCreatesTopicAndDelivers(t *testing.T) {
	store := newMemStore()
	chat := &fakeChat{}
	srv := newTestServer(t, store, chat)

	if err := directory.NewDevices(store).Bind(context.Background(), "d1", "c1"); err != nil {
		t.Fatalf("seed device: %v", err)
	}

	resp := postEvent(t, srv.URL, receivedEvent)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if chat.created != 1 {
		t.Fatalf("created = %d, want one topic", chat.created)
	}
	if len(chat.sends) != 1 || !strings.HasPrefix(chat.sends[0], "c1/") || !strings.HasSuffix(chat.sends[0], ": hi") {
		t.Fatalf("sends = %v", chat.sends)
	}

	binding, err := directory.NewTopics(store, chat).Resolve(context.Background(), "+15551234567")
	if err != nil {
		t.Fatalf("binding not persisted: %v", err)
	}
	if binding.ChatID != "c1" {
		t.Fatalf("binding = %+v", binding)
	}
}

func TestSMSReceivedRedeliveryReturns202(t *testing.T) {
	store := newMemStore()
	chat := &fakeChat{}
	srv := newTestServer(t, store, chat)

	if err := directory.NewDevices(store).Bind(context.Background(), "d1", "c1"); err != nil {
		t.Fatalf("seed device: %v", err)
	}

	if resp := postEvent(t, srv.URL, receivedEvent); resp.StatusCode != http.StatusOK {
		t.Fatalf("first status = %d, want 200", resp.StatusCode)
	}
	if resp := postEvent(t, srv.URL, receivedEvent); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("redelivery status = %d, want 202", resp.StatusCode)
	}
	if len(chat.sends) != 1 {
		t.Fatalf("sends = %v, redelivery must not deliver again", chat.sends)
	}
}

func TestSMSReceivedWithoutDeviceBindingReturns500(t *testing.T) {
	chat := &fakeChat{}
	srv := newTestServer(t, newMemStore(), chat)

	resp := postEvent(t, srv.URL, receivedEvent)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	if chat.created != 0 || len(chat.sends) != 0 {
		t.Fatalf("no platform calls expected, chat = %+v", chat)
	}
}

func TestDeliveredReceiptClearsMarker(t *testing.T) {
	store := newMemStore()
	chat := &fakeChat{}
	srv := newTestServer(t, store, chat)

	sent := ledger.NewSentLedger(store)
	if err := sent.Record(context.Background(), "gw-9", ledger.SentRecord{ChatID: "c1", MessageID: "7"}); err != nil {
		t.Fatalf("seed sent record: %v", err)
	}

	resp := postEvent(t, srv.URL, `{"event":"sms:delivered","payload":{"messageId":"gw-9"}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(chat.reactions) != 1 || chat.reactions[0] != "c1/7: " {
		t.Fatalf("reactions = %v, want cleared marker", chat.reactions)
	}
}

func TestDeliveredReceiptUnknownIDIsNoop(t *testing.T) {
	chat := &fakeChat{}
	srv := newTestServer(t, newMemStore(), chat)

	resp := postEvent(t, srv.URL, `{"event":"sms:delivered","payload":{"messageId":"ghost"}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(chat.reactions) != 0 {
		t.Fatalf("reactions = %v, want none", chat.reactions)
	}
}

func TestFailedReceiptSetsFailureMarker(t *testing.T) {
	store := newMemStore()
	chat := &fakeChat{}
	srv := newTestServer(t, store, chat)

	sent := ledger.NewSentLedger(store)
	if err := sent.Record(context.Background(), "gw-9", ledger.SentRecord{ChatID: "c1", MessageID: "7"}); err != nil {
		t.Fatalf("seed sent record: %v", err)
	}

	resp := postEvent(t, srv.URL, `{"event":"sms:failed","payload":{"messageId":"gw-9"}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(chat.reactions) != 1 || chat.reactions[0] != "c1/7: 👎" {
		t.Fatalf("reactions = %v, want failure marker", chat.reactions)
	}
}

func TestMMSReceivedDeliversPlaceholder(t *testing.T) {
	store := newMemStore()
	chat := &fakeChat{}
	srv := newTestServer(t, store, chat)

	if err := directory.NewDevices(store).Bind(context.Background(), "d1", "c1"); err != nil {
		t.Fatalf("seed device: %v", err)
	}

	body := strings.Replace(receivedEvent, "sms:received", "mms:received", 1)
	resp := postEvent(t, srv.URL, body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(chat.sends) != 1 || strings.HasSuffix(chat.sends[0], ": hi") {
		t.Fatalf("sends = %v, want placeholder text", chat.sends)
	}
}

func TestMalformedBodyReturns400(t *testing.T) {
	srv := newTestServer(t, newMemStore(), &fakeChat{})

	resp := postEvent(t, srv.URL, "{not json")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestUnknownEventIsAcknowledged(t *testing.T) {
	srv := newTestServer(t, newMemStore(), &fakeChat{})

	resp := postEvent(t, srv.URL, `{"event":"system:ping","payload":{}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestPingReturnsTimestamp(t *testing.T) {
	srv := newTestServer(t, newMemStore(), &fakeChat{})

	resp, err := http.Get(srv.URL + "/ping")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	buf := make([]byte, 64)
	n, _ := resp.Body.Read(buf)
	if _, err := time.Parse(time.RFC3339, string(buf[:n])); err != nil {
		t.Fatalf("body %q is not a timestamp: %v", buf[:n], err)
	}
}
