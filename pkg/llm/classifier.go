package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// EngageResult is the validated structured output of one classify-and-respond
// call: scam verdict, scammer sentiment, persona choice, escalation flag, and
// the in-character reply.
type EngageResult struct {
	ScamDetected bool   `json:"scam_detected"`
	Sentiment    int    `json:"sentiment"`
	Persona      string `json:"persona"`
	HighPriority bool   `json:"high_priority"`
	Reply        string `json:"reply"`
}

// Engager is the classify-and-respond collaborator contract.
type Engager interface {
	Engage(ctx context.Context, instruction string, history []Message, message string) (*EngageResult, error)
}

// EngageClient implements Engager over a chat Client with a retry policy.
type EngageClient struct {
	client *Client
	retry  RetryPolicy
}

// NewEngageClient wraps a chat client with the classifier retry policy.
func NewEngageClient(client *Client, retry RetryPolicy) *EngageClient {
	if retry.Attempts == 0 {
		retry = DefaultClassifierRetry()
	}
	return &EngageClient{client: client, retry: retry}
}

// Engage sends the composed instruction, bounded history and new message to
// the model and parses the structured verdict. A malformed response is an
// error like any transport failure - the retry wrapper treats both as
// transient and the pipeline falls back after exhaustion.
func (e *EngageClient) Engage(ctx context.Context, instruction string, history []Message, message string) (*EngageResult, error) {
	msgs := make([]Message, 0, len(history)+2)
	msgs = append(msgs, Message{Role: "system", Content: instruction})
	msgs = append(msgs, history...)
	msgs = append(msgs, Message{Role: "user", Content: message})

	var result EngageResult
	err := e.retry.Do(ctx, func(ctx context.Context) error {
		content, err := e.client.complete(ctx, msgs)
		if err != nil {
			return err
		}
		return parseEngageResult(content, &result)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func parseEngageResult(content string, out *EngageResult) error {
	clean := extractJSON(content)

	var parsed EngageResult
	if err := json.Unmarshal([]byte(clean), &parsed); err != nil {
		return fmt.Errorf("malformed engage response: %w - content: %s", err, clean)
	}
	if strings.TrimSpace(parsed.Reply) == "" {
		return fmt.Errorf("engage response missing reply")
	}

	// Sentiment is a 1-10 scale; clamp model drift instead of failing the call.
	if parsed.Sentiment < 1 {
		parsed.Sentiment = 1
	}
	if parsed.Sentiment > 10 {
		parsed.Sentiment = 10
	}

	*out = parsed
	return nil
}
