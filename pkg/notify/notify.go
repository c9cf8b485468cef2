// Package notify pushes per-turn intelligence to an external callback, the
// hook fraud teams use to feed collected identifiers into their own tooling.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/TryMightyAI/decoy/pkg/httputil"
	"github.com/TryMightyAI/decoy/pkg/intel"
)

// Payload is the JSON body posted to the callback URL.
type Payload struct {
	SessionID        string             `json:"session_id"`
	Timestamp        time.Time          `json:"timestamp"`
	ScamDetected     bool               `json:"scam_detected"`
	HighPriority     bool               `json:"high_priority"`
	TurnCount        int                `json:"turn_count"`
	SyndicateScore   float64            `json:"syndicate_score"`
	ReturningScammer bool               `json:"returning_scammer"`
	Intelligence     intel.Intelligence `json:"intelligence"`
}

// Notifier posts payloads to a configured callback URL. A nil Notifier is
// valid and does nothing, so callers never need to branch on configuration.
type Notifier struct {
	url    string
	client *http.Client
}

// NewNotifier returns a notifier for the given URL, or nil when the URL is
// empty.
func NewNotifier(url string) *Notifier {
	if url == "" {
		return nil
	}
	return &Notifier{url: url, client: httputil.CallbackClient()}
}

// Send posts the payload. Failures are reported to the caller but callers
// treat them as non-fatal: losing a callback never loses the turn.
func (n *Notifier) Send(ctx context.Context, p Payload) error {
	if n == nil {
		return nil
	}

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", n.url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("callback request failed: %w", err)
	}
	defer httputil.DrainAndClose(resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("callback returned status %d", resp.StatusCode)
	}
	log.Printf("[NOTIFY] Intel callback delivered: session=%s status=%d", p.SessionID, resp.StatusCode)
	return nil
}
