// Package httputil provides shared HTTP plumbing for the decoy service:
// pooled clients in timeout tiers and safe response body handling.
package httputil

import (
	"io"
	"net"
	"net/http"
	"sync"
	"time"
)

// MaxResponseSize bounds response body reads. Model providers and callback
// targets are external services; an oversized body must not OOM the decoy.
const MaxResponseSize = 2 * 1024 * 1024 // 2MB

// Shared transport with connection pooling, reused by every outbound call
// (model, embeddings, callbacks) so TCP connections are recycled.
var sharedTransport = &http.Transport{
	Proxy: http.ProxyFromEnvironment,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	ForceAttemptHTTP2:     true,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   10,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
}

// TimeoutTier defines the timeout categories used across the pipeline.
type TimeoutTier int

const (
	// TierCallback for outbound verification/notification calls (5s).
	// Side-effect calls must stay bounded to single-digit seconds.
	TierCallback TimeoutTier = iota
	// TierModel for chat-completion calls (30s).
	TierModel
	// TierEmbedding for embedding calls, which can queue behind batch work (60s).
	TierEmbedding
)

var tierTimeouts = map[TimeoutTier]time.Duration{
	TierCallback:  5 * time.Second,
	TierModel:     30 * time.Second,
	TierEmbedding: 60 * time.Second,
}

var (
	clientCallback  *http.Client
	clientModel     *http.Client
	clientEmbedding *http.Client
	clientOnce      sync.Once
)

func initClients() {
	clientCallback = &http.Client{Timeout: tierTimeouts[TierCallback], Transport: sharedTransport}
	clientModel = &http.Client{Timeout: tierTimeouts[TierModel], Transport: sharedTransport}
	clientEmbedding = &http.Client{Timeout: tierTimeouts[TierEmbedding], Transport: sharedTransport}
}

// Client returns the shared HTTP client for the given timeout tier.
// These clients share one connection pool; do not construct per-request clients.
func Client(tier TimeoutTier) *http.Client {
	clientOnce.Do(initClients)
	switch tier {
	case TierCallback:
		return clientCallback
	case TierEmbedding:
		return clientEmbedding
	default:
		return clientModel
	}
}

// CallbackClient returns the 5s-timeout client for notification side-effects.
func CallbackClient() *http.Client { return Client(TierCallback) }

// ModelClient returns the 30s-timeout client for chat-completion calls.
func ModelClient() *http.Client { return Client(TierModel) }

// EmbeddingClient returns the 60s-timeout client for embedding calls.
func EmbeddingClient() *http.Client { return Client(TierEmbedding) }

// ReadResponseBody reads an HTTP response body with a size limit.
func ReadResponseBody(r io.Reader, maxSize int64) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = MaxResponseSize
	}
	return io.ReadAll(io.LimitReader(r, maxSize))
}

// DrainAndClose drains and closes a response body so the pooled
// connection can be reused.
func DrainAndClose(body io.ReadCloser) {
	if body != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(body, MaxResponseSize))
		_ = body.Close()
	}
}
