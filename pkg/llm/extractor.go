package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/TryMightyAI/decoy/pkg/intel"
)

// Extractor is the LLM-backed intelligence extraction collaborator contract.
type Extractor interface {
	Extract(ctx context.Context, text string) (intel.Intelligence, error)
}

// ExtractClient implements Extractor over a chat Client with a retry policy.
type ExtractClient struct {
	client      *Client
	retry       RetryPolicy
	instruction string
}

// NewExtractClient wraps a chat client with the extractor retry policy and
// extraction instruction.
func NewExtractClient(client *Client, retry RetryPolicy, instruction string) *ExtractClient {
	if retry.Attempts == 0 {
		retry = DefaultExtractorRetry()
	}
	return &ExtractClient{client: client, retry: retry, instruction: instruction}
}

// Extract asks the model to pull identifiers out of a raw message. The model
// contributes de-obfuscated matches, phone numbers, keyword tags and analyst
// notes that the lexical pass cannot produce.
func (e *ExtractClient) Extract(ctx context.Context, text string) (intel.Intelligence, error) {
	msgs := []Message{
		{Role: "system", Content: e.instruction},
		{Role: "user", Content: text},
	}

	var result intel.Intelligence
	err := e.retry.Do(ctx, func(ctx context.Context) error {
		content, err := e.client.complete(ctx, msgs)
		if err != nil {
			return err
		}
		var parsed intel.Intelligence
		if err := json.Unmarshal([]byte(extractJSON(content)), &parsed); err != nil {
			return fmt.Errorf("malformed extraction response: %w", err)
		}
		result = parsed
		return nil
	})
	if err != nil {
		return intel.Intelligence{}, err
	}

	// Field-level dedup; the model sometimes repeats values it is unsure about.
	return intel.Merge(result, intel.Intelligence{}), nil
}
