package mailer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testConfig(url string) Config {
	return Config{
		URL:          url,
		APIKey:       "secret",
		From:         "noreply@holidaysrilanka.example",
		Timeout:      time.Second,
		RetryMax:     2,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
	}
}

func TestSend_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/messages" {
			t.Errorf("path = %s, want /api/messages", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("authorization = %q", got)
		}

		var msg Message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Errorf("decode: %v", err)
		}
		if msg.To != "agent@example.com" || msg.Template != "claim_approved" {
			t.Errorf("unexpected message: %+v", msg)
		}
		if msg.From != "noreply@holidaysrilanka.example" {
			t.Errorf("from = %q, want default sender", msg.From)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	client := NewClient(testConfig(ts.URL), nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := client.Send(ctx, Message{
		To:       "agent@example.com",
		Subject:  "Claim approved",
		Template: "claim_approved",
		Data:     map[string]any{"claim_id": 7},
	})
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
}

func TestSend_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewClient(testConfig(ts.URL), nil)

	if err := client.Send(context.Background(), Message{To: "a@example.com"}); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
}

func TestSend_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	client := NewClient(testConfig(ts.URL), nil)

	if err := client.Send(context.Background(), Message{To: "a@example.com"}); err == nil {
		t.Fatalf("expected error for 400")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestSend_GivesUpAfterRetries(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	client := NewClient(testConfig(ts.URL), nil)

	if err := client.Send(context.Background(), Message{To: "a@example.com"}); err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
}

func TestSend_NotConfigured(t *testing.T) {
	var client *Client
	if err := client.Send(context.Background(), Message{}); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestLogMailer(t *testing.T) {
	if err := NewLogMailer(nil).Send(context.Background(), Message{To: "a@example.com"}); err != nil {
		t.Fatalf("LogMailer.Send error: %v", err)
	}
}
