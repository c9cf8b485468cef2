// Package llm provides the structured classifier/responder and the
// LLM-backed intelligence extractor over any OpenAI-compatible chat API.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/TryMightyAI/decoy/pkg/httputil"
)

// Provider defines the backend service type.
type Provider string

const (
	ProviderOpenRouter Provider = "openrouter"
	ProviderOllama     Provider = "ollama"
	ProviderCerebras   Provider = "cerebras"
	ProviderGroq       Provider = "groq"
	ProviderCustom     Provider = "custom"
)

// DefaultTemperature keeps replies varied enough to sound human while the
// JSON envelope stays parseable.
const DefaultTemperature = 0.7

// Message is one chat turn in provider wire format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client calls an OpenAI-compatible /chat/completions endpoint.
type Client struct {
	httpClient  *http.Client
	provider    Provider
	baseURL     string
	apiKey      string
	model       string
	temperature float64
}

// ClientConfig holds construction options for Client.
type ClientConfig struct {
	Provider    Provider
	APIKey      string // optional for Ollama
	Model       string
	BaseURL     string  // optional override
	Temperature float64 // defaults to DefaultTemperature
}

// NewClient creates a chat client for the configured provider.
func NewClient(cfg ClientConfig) *Client {
	var baseURL string
	switch cfg.Provider {
	case ProviderOllama:
		baseURL = "http://localhost:11434/v1" // OpenAI-compatible endpoint of Ollama
	case ProviderCerebras:
		baseURL = "https://api.cerebras.ai/v1"
	case ProviderGroq:
		baseURL = "https://api.groq.com/openai/v1"
	case ProviderOpenRouter:
		fallthrough
	default:
		baseURL = "https://openrouter.ai/api/v1"
	}
	if cfg.BaseURL != "" {
		baseURL = cfg.BaseURL
	}

	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = DefaultTemperature
	}

	return &Client{
		httpClient:  httputil.ModelClient(),
		provider:    cfg.Provider,
		baseURL:     baseURL,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: temperature,
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// complete performs one chat-completion call and returns the raw content.
func (c *Client) complete(ctx context.Context, msgs []Message) (string, error) {
	if c.provider != ProviderOllama && c.apiKey == "" {
		return "", fmt.Errorf("API key not configured for provider %s", c.provider)
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", err
	}

	endpoint := strings.TrimRight(c.baseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.provider == ProviderOpenRouter {
		req.Header.Set("HTTP-Referer", "https://github.com/TryMightyAI/decoy")
		req.Header.Set("X-Title", "Decoy")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer httputil.DrainAndClose(resp.Body)

	respBody, err := httputil.ReadResponseBody(resp.Body, httputil.MaxResponseSize)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
	}

	var result chatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("unmarshal error: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	return result.Choices[0].Message.Content, nil
}

// extractJSON strips markdown fences and prose around a JSON object.
func extractJSON(content string) string {
	clean := strings.TrimSpace(content)
	if start := strings.Index(clean, "{"); start != -1 {
		clean = clean[start:]
	}
	if end := strings.LastIndex(clean, "}"); end != -1 {
		clean = clean[:end+1]
	}
	return clean
}
