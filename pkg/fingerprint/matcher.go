package fingerprint

import (
	"context"
	"fmt"
	"strings"

	"github.com/TryMightyAI/decoy/pkg/intel"
)

// Tier cutoffs for the reported syndicate score. The returning-scammer flag
// intentionally uses a separate threshold against the raw score; see
// ReturningThreshold. Do not unify these without a product decision.
const (
	tierHighCutoff     = 0.90
	tierHighScore      = 0.95 // "confirmed high-level syndicate"
	tierMidCutoff      = 0.70
	tierMidScore       = 0.80 // "suspected syndicate hub"
	ReturningThreshold = 0.85
)

// MatchResult holds the outcome of one fingerprint match.
type MatchResult struct {
	RawScore         float64 // 1 - best distance, pre-tiering
	Score            float64 // tiered score reported to callers
	ReturningScammer bool    // raw score strictly above ReturningThreshold
}

// Matcher queries the similarity index for near-duplicate scammer behavior
// and always records the current session's fingerprint afterward.
type Matcher struct {
	index SimilarityIndex
	topK  int
}

// NewMatcher creates a matcher over the given index.
func NewMatcher(index SimilarityIndex) *Matcher {
	return &Matcher{index: index, topK: 3}
}

// Summary builds the behavioral summary string that gets embedded: verdict,
// sentiment, persona and the identifier values. The raw message never goes
// into the index - behavior is what repeats across burner identities, not
// wording.
func Summary(scamDetected bool, sentiment int, persona string, in intel.Intelligence) string {
	verdict := "benign"
	if scamDetected {
		verdict = "scam"
	}
	if persona == "" {
		persona = "none"
	}
	parts := []string{
		"verdict=" + verdict,
		fmt.Sprintf("sentiment=%d", sentiment),
		"persona=" + persona,
	}
	if vals := in.Values(); len(vals) > 0 {
		parts = append(parts, "identifiers="+strings.Join(vals, ","))
	}
	if len(in.Keywords) > 0 {
		parts = append(parts, "keywords="+strings.Join(in.Keywords, ","))
	}
	return strings.Join(parts, " ")
}

// Match scores the summary against the index, applies the reporting tiers,
// then inserts the summary as a new fingerprint record regardless of the
// match outcome so future sessions can match against this one.
func (m *Matcher) Match(ctx context.Context, sessionKey, summary string) (MatchResult, error) {
	var result MatchResult

	neighbors, err := m.index.Query(ctx, summary, m.topK)
	if err != nil {
		// Score stays zero; the write below must still happen.
		if addErr := m.index.Add(ctx, sessionKey, summary, nil); addErr != nil {
			return result, fmt.Errorf("query failed (%v) and add failed: %w", err, addErr)
		}
		return result, fmt.Errorf("query failed: %w", err)
	}

	if len(neighbors) > 0 {
		raw := 1 - neighbors[0].Distance
		if raw < 0 {
			raw = 0
		}
		result.RawScore = raw
		result.Score = tierScore(raw)
		result.ReturningScammer = raw > ReturningThreshold
	}

	if err := m.index.Add(ctx, sessionKey, summary, nil); err != nil {
		return result, fmt.Errorf("failed to record fingerprint: %w", err)
	}
	return result, nil
}

// tierScore maps a raw match score onto the reported syndicate score.
func tierScore(raw float64) float64 {
	switch {
	case raw > tierHighCutoff:
		return tierHighScore
	case raw > tierMidCutoff:
		return tierMidScore
	default:
		return raw
	}
}
