// Package webhook exposes the HTTP surface the SMS gateway calls back into,
// and keeps the gateway-side webhook registration alive.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/smsgram/smsgram/pkg/logger"
	"github.com/smsgram/smsgram/pkg/relay"
	"github.com/smsgram/smsgram/pkg/smsgw"
)

// event is the envelope of every gateway webhook call, discriminated by
// Event before Payload is narrowed.
type event struct {
	ID        string          `json:"id"`
	WebhookID string          `json:"webhookId"`
	DeviceID  string          `json:"deviceId"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
}

type receivedPayload struct {
	Message     string `json:"message"`
	PhoneNumber string `json:"phoneNumber"`
	MessageID   string `json:"messageId"`
	ReceivedAt  string `json:"receivedAt"`
	SimNumber   int    `json:"simNumber"`
}

type statusPayload struct {
	MessageID string `json:"messageId"`
}

type Server struct {
	engine *relay.Engine
	mux    *http.ServeMux
}

func NewServer(engine *relay.Engine) *Server {
	s := &Server{engine: engine, mux: http.NewServeMux()}
	s.mux.HandleFunc("POST /sms-webhook", s.handleSMSWebhook)
	s.mux.HandleFunc("/ping", s.handlePing)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe blocks until ctx is cancelled or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.InfoCF("webhook", "Listening", map[string]interface{}{"port": port})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleSMSWebhook(w http.ResponseWriter, r *http.Request) {
	var ev event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		logger.WarnCF("webhook", "Malformed webhook body", map[string]interface{}{
			"error": err.Error(),
		})
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	switch ev.Event {
	case smsgw.EventSMSReceived:
		s.handleReceived(w, r, ev, false)
	case smsgw.EventMMSReceived:
		s.handleReceived(w, r, ev, true)
	case smsgw.EventSMSDelivered:
		s.handleReceipt(w, r, ev, s.engine.HandleDelivered)
	case smsgw.EventSMSFailed:
		s.handleReceipt(w, r, ev, s.engine.HandleFailed)
	default:
		logger.DebugCF("webhook", "Ignoring event", map[string]interface{}{
			"event": ev.Event,
		})
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) handleReceived(w http.ResponseWriter, r *http.Request, ev event, mms bool) {
	var payload receivedPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	in := relay.InboundSMS{
		MessageID:   payload.MessageID,
		PhoneNumber: payload.PhoneNumber,
		Text:        payload.Message,
		DeviceID:    ev.DeviceID,
		ReceivedAt:  payload.ReceivedAt,
	}

	var (
		res relay.InboundResult
		err error
	)
	if mms {
		res, err = s.engine.HandleInboundMMS(r.Context(), in)
	} else {
		res, err = s.engine.HandleInboundSMS(r.Context(), in)
	}

	switch {
	case err != nil:
		// Includes ErrNoRoute: acknowledged with an error status so the
		// gateway may redeliver once the binding issue is fixed.
		w.WriteHeader(http.StatusInternalServerError)
	case res == relay.Deduped:
		w.WriteHeader(http.StatusAccepted)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request, ev event, handle func(context.Context, string) error) {
	var payload statusPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := handle(r.Context(), payload.MessageID); err != nil {
		logger.ErrorCF("webhook", "Receipt handling failed", map[string]interface{}{
			"event":      ev.Event,
			"message_id": payload.MessageID,
			"error":      err.Error(),
		})
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, time.Now().UTC().Format(time.RFC3339))
}
