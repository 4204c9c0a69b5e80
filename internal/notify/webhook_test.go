package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/LeventeLantos/whatsapp-relay/internal/model"
)

func TestWebhookNotifier_Notify_Success(t *testing.T) {
	t.Parallel()

	type gotReq struct {
		Method      string
		ContentType string
		EventID     string
		Body        []byte
	}

	var captured gotReq

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Method = r.Method
		captured.ContentType = r.Header.Get("Content-Type")
		captured.EventID = r.Header.Get("X-Event-Id")

		b, _ := ioReadAll(r)
		captured.Body = b

		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second)

	at := time.Date(2026, 2, 2, 18, 0, 0, 0, time.UTC)
	err := n.Notify(context.Background(), model.LifecycleEvent{
		BotID:       "shop-bot",
		CustomerID:  "c1",
		Status:      model.Connected,
		PhoneNumber: "1155551234",
		At:          at,
	})
	if err != nil {
		t.Fatalf("Notify() error: %v", err)
	}

	if captured.Method != http.MethodPost {
		t.Fatalf("expected method POST, got %q", captured.Method)
	}
	if captured.ContentType != "application/json" {
		t.Fatalf("expected Content-Type application/json, got %q", captured.ContentType)
	}

	var env eventEnvelope
	if err := json.Unmarshal(captured.Body, &env); err != nil {
		t.Fatalf("failed to decode request json: %v body=%q", err, string(captured.Body))
	}
	if env.Type != "bot.connected" {
		t.Fatalf("expected type bot.connected, got %q", env.Type)
	}
	if env.ID == "" || env.ID != captured.EventID {
		t.Fatalf("expected event id header to match body, got header=%q body=%q", captured.EventID, env.ID)
	}
	if env.Event.BotID != "shop-bot" || env.Event.PhoneNumber != "1155551234" || !env.Event.At.Equal(at) {
		t.Fatalf("unexpected event: %+v", env.Event)
	}
}

func TestWebhookNotifier_Notify_Non2xx_ReturnsErrorWithBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second)

	err := n.Notify(context.Background(), model.LifecycleEvent{BotID: "b", Status: model.Disconnected})
	if err == nil {
		t.Fatalf("expected error, got nil")
	}

	msg := err.Error()
	if !strings.Contains(msg, "unexpected status code: 502") {
		t.Fatalf("expected error to mention status code, got: %v", err)
	}
	if !strings.Contains(msg, `body="upstream down"`) {
		t.Fatalf("expected error to include body, got: %v", err)
	}
}

func TestWebhookNotifier_Notify_ContextCanceled(t *testing.T) {
	t.Parallel()

	// Server that intentionally blocks longer than our context deadline.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := n.Notify(ctx, model.LifecycleEvent{BotID: "b"})
	if err == nil {
		t.Fatalf("expected error, got nil")
	}

	// On cancellation, net/http returns context deadline exceeded.
	if !strings.Contains(strings.ToLower(err.Error()), "context") &&
		!strings.Contains(strings.ToLower(err.Error()), "deadline") {
		t.Fatalf("expected context/deadline error, got: %v", err)
	}
}

func ioReadAll(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}
