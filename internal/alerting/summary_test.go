package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/minhle/hooktrader/internal/types"
)

func TestCloseSummary_Format_NothingToClose(t *testing.T) {
	s := CloseSummary{
		Symbol: "MES",
		Result: types.AggregateResult{
			Success:        true,
			NothingToClose: true,
			Message:        "no positions to close",
		},
	}

	got := s.Format()
	if !strings.Contains(got, "no positions to close") {
		t.Errorf("Format() = %q, missing empty-book notice", got)
	}
	if s.Event() != EventCloseAll {
		t.Errorf("Event() = %s, want %s", s.Event(), EventCloseAll)
	}
}

func TestCloseSummary_Format_Mixed(t *testing.T) {
	s := CloseSummary{
		Symbol: "MES",
		Result: types.AggregateResult{
			Success:   false,
			Message:   "closed 3 contracts across 2 positions; 1 of 2 positions failed",
			ClosedQty: 3,
			Outcomes: []types.ExecutionOutcome{
				{Success: true, Action: "SELL_LIMIT", Quantity: 3, Message: "order filled"},
				{Success: false, Action: "BUY_LIMIT", Quantity: 2, Message: "order rejected: margin"},
			},
		},
	}

	got := s.Format()
	if !strings.Contains(got, "FAILED") {
		t.Errorf("Format() = %q, missing failure marker", got)
	}
	if !strings.Contains(got, "SELL_LIMIT x3: ok") {
		t.Errorf("Format() = %q, missing per-position line", got)
	}
	if !strings.Contains(got, "BUY_LIMIT x2: FAILED") {
		t.Errorf("Format() = %q, missing failed position line", got)
	}
	if s.Event() != EventCloseAllFailed {
		t.Errorf("Event() = %s, want %s", s.Event(), EventCloseAllFailed)
	}
}

func TestTelegramAlerter_Alert(t *testing.T) {
	var received telegramMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/bottest-token/sendMessage") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(telegramResponse{OK: true})
	}))
	defer srv.Close()

	alerter := NewTelegramAlerter(TelegramConfig{
		BotToken: "test-token",
		ChatID:   "12345",
		BaseURL:  srv.URL,
	})

	err := alerter.Alert(context.Background(), SeverityWarning, "order rejected", "reason", "margin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if received.ChatID != "12345" {
		t.Errorf("chat_id = %s, want 12345", received.ChatID)
	}
	if !strings.Contains(received.Text, "order rejected") {
		t.Errorf("text %q missing message", received.Text)
	}
	if !strings.Contains(received.Text, "reason: margin") {
		t.Errorf("text %q missing fields", received.Text)
	}
}

func TestTelegramAlerter_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(telegramResponse{OK: false, Description: "chat not found"})
	}))
	defer srv.Close()

	alerter := NewTelegramAlerter(TelegramConfig{
		BotToken: "test-token",
		ChatID:   "12345",
		BaseURL:  srv.URL,
	})

	err := alerter.Alert(context.Background(), SeverityInfo, "hello")
	if err == nil {
		t.Fatal("expected error from API failure")
	}
	if !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("error %q missing API description", err.Error())
	}
}

func TestTelegramAlerter_SendCloseSummary(t *testing.T) {
	var received telegramMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		_ = json.NewEncoder(w).Encode(telegramResponse{OK: true})
	}))
	defer srv.Close()

	alerter := NewTelegramAlerter(TelegramConfig{
		BotToken: "test-token",
		ChatID:   "12345",
		BaseURL:  srv.URL,
	})

	summary := CloseSummary{
		Symbol: "MES",
		Result: types.AggregateResult{
			Success:   true,
			Message:   "closed 3 contracts across 1 positions",
			ClosedQty: 3,
			Outcomes: []types.ExecutionOutcome{
				{Success: true, Action: "SELL_LIMIT", Quantity: 3, Message: "order filled"},
			},
		},
	}

	if err := alerter.SendCloseSummary(context.Background(), summary); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(received.Text, "Close-all completed") {
		t.Errorf("text %q missing summary header", received.Text)
	}
}
