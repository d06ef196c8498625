package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func testNote() Notification {
	return Notification{
		AssetKey:    "usdc",
		Bucket:      time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Utilization: decimal.NewFromInt(1),
		Rcomp:       decimal.NewFromInt(65536000000000),
		ElapsedSecs: 60,
	}
}

func TestWebhookNotifierSuccess(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second, zerolog.Nop())
	if err := n.Notify(context.Background(), testNote()); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if received["asset"] != "usdc" {
		t.Fatalf("asset = %v, want usdc", received["asset"])
	}
	if received["rcomp"] != "65536000000000" {
		t.Fatalf("rcomp = %v, want 65536000000000", received["rcomp"])
	}
}

func TestWebhookNotifierErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second, zerolog.Nop())
	if err := n.Notify(context.Background(), testNote()); err == nil {
		t.Fatal("expected error on 502 response")
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("path should contain sendMessage, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token", "chat", srv.URL, time.Second, zerolog.Nop())
	if err := n.Notify(context.Background(), testNote()); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id incorrect: %#v", received)
	}
	if !strings.Contains(received["text"], "usdc") {
		t.Fatalf("text should mention the asset, got %q", received["text"])
	}
}

func TestTelegramNotifierNotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token", "chat", srv.URL, time.Second, zerolog.Nop())
	if err := n.Notify(context.Background(), testNote()); err == nil {
		t.Fatal("expected error on ok=false")
	}
}

func TestFanoutReportsFirstFailure(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	f := Fanout{
		NewWebhookNotifier(bad.URL, time.Second, zerolog.Nop()),
		NewWebhookNotifier(good.URL, time.Second, zerolog.Nop()),
	}
	if err := f.Notify(context.Background(), testNote()); err == nil {
		t.Fatal("expected the failing channel's error to surface")
	}
}
