package notify

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"elastic-dca/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewWithoutURLIsNil(t *testing.T) {
	t.Parallel()

	if n := New("", time.Second, 20, discardLogger()); n != nil {
		t.Fatal("empty URL must disable the notifier")
	}
}

func TestNilNotifierIsNoOp(t *testing.T) {
	t.Parallel()

	var n *Notifier
	n.RowFilled(types.Buy, "buy_a1b2c3d4", 0, decimal.New(1, -2), decimal.New(2000, 0))
	n.HedgeTriggered(types.Buy, "buy_a1b2c3d4", decimal.New(-50, 0), decimal.New(3, -2))
	n.TakeProfit(types.Sell, "sell_deadbeef", decimal.New(101, 0))
	n.IdentityConflict("identity conflict: position 7")
}

func TestWebhookDelivery(t *testing.T) {
	t.Parallel()

	received := make(chan message, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Errorf("decode webhook body: %v", err)
		}
		received <- msg
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, 2*time.Second, 60, discardLogger())
	n.RowFilled(types.Buy, "buy_a1b2c3d4", 1, decimal.RequireFromString("0.02"), decimal.RequireFromString("1995"))

	select {
	case msg := <-received:
		if msg.Event != "row_filled" {
			t.Errorf("event = %q", msg.Event)
		}
		if msg.Data["session_id"] != "buy_a1b2c3d4" {
			t.Errorf("data = %v", msg.Data)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("webhook never delivered")
	}
}

func TestRateLimitDropsExcess(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	done := make(chan struct{}, 64)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		done <- struct{}{}
	}))
	defer srv.Close()

	// 1 per minute with burst 1: only the first send goes through.
	n := New(srv.URL, 2*time.Second, 1, discardLogger())
	for i := 0; i < 10; i++ {
		n.TakeProfit(types.Buy, "buy_a1b2c3d4", decimal.New(int64(i), 0))
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("first webhook never delivered")
	}
	// Give stragglers a moment; none should arrive.
	time.Sleep(200 * time.Millisecond)
	if got := hits.Load(); got != 1 {
		t.Errorf("webhook hits = %d, want 1", got)
	}
}
