package amqp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"calco/internal/core"
	"calco/internal/log"
)

func TestExponentialBackoff(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{10, 30 * time.Second},
		{70, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			result := exponentialBackoff(tt.attempt)
			if result != tt.expected {
				t.Errorf("exponentialBackoff(%d) = %v, want %v", tt.attempt, result, tt.expected)
			}
		})
	}
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection refused", errors.New("connection refused"), true},
		{"connection closed", errors.New("connection closed"), true},
		{"unexpected EOF", errors.New("unexpected EOF"), true},
		{"broken pipe", errors.New("write: broken pipe"), true},
		{"closed network", errors.New("use of closed network connection"), true},
		{"wrapped", fmt.Errorf("publish: %w", errors.New("connection reset")), true},
		{"other", errors.New("invalid input"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isConnectionError(tt.err); got != tt.expected {
				t.Errorf("isConnectionError(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func newOfflineClient() *Client {
	return &Client{
		url:          "amqp://localhost:5672",
		exchangeName: "calco",
		queueName:    "ledger-events",
		logger:       log.Discard(),
	}
}

func TestClient_CircuitBreaker(t *testing.T) {
	client := newOfflineClient()

	if client.isCircuitOpen() {
		t.Fatal("circuit should start closed")
	}

	for i := 0; i < maxFailures-1; i++ {
		client.recordFailure()
	}
	if client.isCircuitOpen() {
		t.Error("circuit should stay closed below the failure threshold")
	}

	client.recordFailure()
	if !client.isCircuitOpen() {
		t.Error("circuit should open at the failure threshold")
	}

	client.mu.Lock()
	client.lastFailure = time.Now().Add(-openTimeout - time.Second)
	client.mu.Unlock()
	if client.isCircuitOpen() {
		t.Error("circuit should let a probe through after the open timeout")
	}
	if got := atomic.LoadInt32(&client.state); got != StateHalfOpen {
		t.Errorf("state = %d, want half-open", got)
	}

	client.recordFailure()
	if got := atomic.LoadInt32(&client.state); got != StateOpen {
		t.Errorf("failed probe should reopen the circuit, state = %d", got)
	}

	client.recordSuccess()
	if client.isCircuitOpen() {
		t.Error("success should close the circuit")
	}
	if got := atomic.LoadInt64(&client.failureCount); got != 0 {
		t.Errorf("failureCount = %d, want 0", got)
	}
}

func TestClient_PublishLedgerEvent_CircuitOpen(t *testing.T) {
	client := newOfflineClient()
	atomic.StoreInt32(&client.state, StateOpen)
	client.lastFailure = time.Now()

	err := client.PublishLedgerEvent(context.Background(), core.LedgerEvent{Type: core.EventRecordCreated, SheetID: 1})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected circuit breaker error, got %v", err)
	}
	if !strings.Contains(err.Error(), "circuit breaker is open") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestClient_PublishLedgerEvent_CanceledContext(t *testing.T) {
	client := newOfflineClient()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := client.PublishLedgerEvent(ctx, core.LedgerEvent{Type: core.EventRecordCreated, SheetID: 1})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestLedgerEventMessage_JSON(t *testing.T) {
	ev := core.LedgerEvent{
		Type:       core.EventRecordUpdated,
		SheetID:    3,
		RecordID:   9,
		RecordKind: core.KindExpense,
		Delta:      -250,
		OccurredAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}

	data, err := NewLedgerEventMessage(ev).ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}

	msg, err := LedgerEventMessageFromJSON(data)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	if msg.Version != MessageVersion {
		t.Errorf("Version = %d, want %d", msg.Version, MessageVersion)
	}
	if msg.Event.Type != ev.Type || msg.Event.SheetID != ev.SheetID || msg.Event.Delta != ev.Delta {
		t.Errorf("event mismatch: got %+v, want %+v", msg.Event, ev)
	}
	if !msg.Event.OccurredAt.Equal(ev.OccurredAt) {
		t.Errorf("OccurredAt = %v, want %v", msg.Event.OccurredAt, ev.OccurredAt)
	}
}

func TestLedgerEventMessage_Invalid(t *testing.T) {
	cases := map[string]string{
		"not json":    "{nope",
		"old version": `{"version":0,"event":{"type":"record.created"}}`,
		"no type":     `{"version":1,"event":{"sheet_id":1}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LedgerEventMessageFromJSON([]byte(body)); err == nil {
				t.Error("expected error")
			}
		})
	}
}
