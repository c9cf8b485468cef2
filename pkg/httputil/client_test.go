package httputil

import (
	"strings"
	"testing"
	"time"
)

func TestClientTimeoutTiers(t *testing.T) {
	tests := []struct {
		tier TimeoutTier
		want time.Duration
	}{
		{TierCallback, 5 * time.Second},
		{TierModel, 30 * time.Second},
		{TierEmbedding, 60 * time.Second},
	}
	for _, tt := range tests {
		if got := Client(tt.tier).Timeout; got != tt.want {
			t.Errorf("tier %d timeout = %v, want %v", tt.tier, got, tt.want)
		}
	}
}

func TestClientsShareTransport(t *testing.T) {
	if CallbackClient().Transport != ModelClient().Transport {
		t.Error("clients must share one pooled transport")
	}
	if ModelClient().Transport != EmbeddingClient().Transport {
		t.Error("clients must share one pooled transport")
	}
}

func TestClientsAreSingletons(t *testing.T) {
	if ModelClient() != ModelClient() {
		t.Error("repeated calls must return the same client")
	}
}

func TestReadResponseBody_Limit(t *testing.T) {
	body, err := ReadResponseBody(strings.NewReader("0123456789"), 4)
	if err != nil {
		t.Fatalf("ReadResponseBody failed: %v", err)
	}
	if string(body) != "0123" {
		t.Errorf("body = %q, want truncated to limit", body)
	}
}

func TestReadResponseBody_DefaultLimit(t *testing.T) {
	body, err := ReadResponseBody(strings.NewReader("small"), 0)
	if err != nil {
		t.Fatalf("ReadResponseBody failed: %v", err)
	}
	if string(body) != "small" {
		t.Errorf("body = %q", body)
	}
}
