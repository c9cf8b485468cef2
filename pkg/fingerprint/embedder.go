// Package fingerprint builds behavioral summaries of scam sessions and
// matches them against previous sessions through a similarity index.
package fingerprint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/TryMightyAI/decoy/pkg/httputil"
)

// EmbeddingProvider turns text into a vector for the similarity index.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// RemoteEmbedder calls an OpenAI-compatible /embeddings endpoint.
type RemoteEmbedder struct {
	apiKey    string
	baseURL   string
	model     string
	dimension int
	client    *http.Client
}

// RemoteEmbedderConfig configures the remote embedder.
type RemoteEmbedderConfig struct {
	APIKey    string
	BaseURL   string // defaults to OpenRouter
	Model     string // defaults to qwen/qwen3-embedding-4b
	Dimension int    // defaults to 1024
}

// NewRemoteEmbedder creates an embedder backed by a hosted embeddings API.
func NewRemoteEmbedder(cfg RemoteEmbedderConfig) (*RemoteEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedding API key not configured")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://openrouter.ai/api/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "qwen/qwen3-embedding-4b"
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = 1024
	}

	log.Printf("[EMBEDDER] Remote embedder initialized: model=%s dim=%d", cfg.Model, cfg.Dimension)
	return &RemoteEmbedder{
		apiKey:    cfg.APIKey,
		baseURL:   cfg.BaseURL,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		client:    httputil.EmbeddingClient(),
	}, nil
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed generates an embedding for a single behavioral summary.
func (e *RemoteEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{
		Model:      e.model,
		Input:      []string{text},
		Dimensions: e.dimension,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.baseURL+"/embeddings", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer httputil.DrainAndClose(resp.Body)

	respBody, err := httputil.ReadResponseBody(resp.Body, httputil.MaxResponseSize)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}

	embedding := make([]float32, len(parsed.Data[0].Embedding))
	for i, v := range parsed.Data[0].Embedding {
		embedding[i] = float32(v)
	}
	return embedding, nil
}

// Dimension returns the embedding dimension.
func (e *RemoteEmbedder) Dimension() int { return e.dimension }

// NoOpEmbedder returns zero vectors. Used when no embedding source is
// available; fingerprint matching degrades to zero scores but the pipeline
// keeps running.
type NoOpEmbedder struct {
	dimension int
}

// NewNoOpEmbedder creates a no-op embedder.
func NewNoOpEmbedder(dimension int) *NoOpEmbedder {
	if dimension <= 0 {
		dimension = 1024
	}
	return &NoOpEmbedder{dimension: dimension}
}

// Embed returns a zero vector.
func (e *NoOpEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, e.dimension), nil
}

// Dimension returns the embedding dimension.
func (e *NoOpEmbedder) Dimension() int { return e.dimension }

// NewAutoDetectedEmbedder picks the best available embedding source:
//  1. Remote API (if an embedding key is configured)
//  2. Local ONNX model (if one is present on disk)
//  3. NoOp (matching disabled, pipeline continues)
func NewAutoDetectedEmbedder(cfg RemoteEmbedderConfig) EmbeddingProvider {
	if cfg.APIKey != "" {
		remote, err := NewRemoteEmbedder(cfg)
		if err == nil {
			return remote
		}
		log.Printf("[EMBEDDER] Remote embedder initialization failed: %v", err)
	}

	local := NewAutoDetectedLocalEmbedder()
	if local != nil && local.IsReady() {
		return local
	}

	log.Printf("[EMBEDDER] No embedding source found, using NoOp embedder (fingerprint matching disabled)")
	log.Printf("[EMBEDDER] To enable: set DECOY_EMBED_API_KEY or place an ONNX model under %s", os.Getenv("DECOY_ONNX_MODEL_PATH"))
	return NewNoOpEmbedder(cfg.Dimension)
}
