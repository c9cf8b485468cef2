package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/TryMightyAI/decoy/pkg/intel"
)

func TestNotifier_Send(t *testing.T) {
	var received Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode failed: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL)
	err := n.Send(context.Background(), Payload{
		SessionID:    "sess-1",
		ScamDetected: true,
		TurnCount:    3,
		Intelligence: intel.Intelligence{UPIHandles: []string{"raj@paytm"}},
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if received.SessionID != "sess-1" || !received.ScamDetected {
		t.Errorf("received = %+v", received)
	}
	if len(received.Intelligence.UPIHandles) != 1 {
		t.Errorf("intelligence lost in transit: %+v", received.Intelligence)
	}
}

func TestNotifier_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL)
	if err := n.Send(context.Background(), Payload{SessionID: "sess-1"}); err == nil {
		t.Error("expected error on 502")
	}
}

func TestNotifier_NilSafe(t *testing.T) {
	var n *Notifier
	if err := n.Send(context.Background(), Payload{SessionID: "sess-1"}); err != nil {
		t.Errorf("nil notifier must be a no-op, got %v", err)
	}
	if NewNotifier("") != nil {
		t.Error("empty URL must produce a nil notifier")
	}
}
