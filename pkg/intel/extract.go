package intel

import (
	"regexp"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"
)

// Lexical extraction: deterministic, offline, compiled once at first use.
// This is the floor under the LLM extractor - whatever happens to the model
// provider, these patterns still fire on every scam turn.

// identifierKind tags what a pattern extracts.
type identifierKind int

const (
	kindUPIHandle identifierKind = iota
	kindPhishingLink
	kindBankAccount
)

// identifierPattern is one compiled extraction rule.
type identifierPattern struct {
	name  string
	regex *regexp.Regexp
	kind  identifierKind
}

var (
	registry     []identifierPattern
	registryOnce sync.Once
	sepStripper  = strings.NewReplacer(" ", "", "-", "")
)

func patterns() []identifierPattern {
	registryOnce.Do(func() {
		registry = []identifierPattern{
			// UPI/VPA handle: local-part @ bare alpha domain-label ("john.doe@okaxis").
			{"upi_handle", regexp.MustCompile(`[A-Za-z0-9._-]{2,256}@[A-Za-z]{2,64}`), kindUPIHandle},
			// URL: scheme + non-whitespace host/path chars, percent-encoding tolerated.
			{"phishing_link", regexp.MustCompile(`https?://[^\s"'<>\)\],]+`), kindPhishingLink},
			// Bank account heuristic: 9-18 digits, tolerating single spaces or
			// dashes between digits. Separators are stripped before dedup.
			{"bank_account", regexp.MustCompile(`\d(?:[ -]?\d){8,17}`), kindBankAccount},
		}
	})
	return registry
}

// Normalize folds compatibility forms (fullwidth digits, styled letters) to
// their ASCII equivalents so spaced-out or styled identifiers still match.
func Normalize(text string) string {
	return norm.NFKC.String(text)
}

// Extract runs the lexical patterns over a raw message and returns the
// identifier sets. Phone numbers, keywords and notes are only populated by
// the LLM extractor; digit runs surface here as bank-account candidates.
func Extract(text string) Intelligence {
	text = Normalize(text)

	var out Intelligence
	for _, p := range patterns() {
		matches := p.regex.FindAllString(text, -1)
		if len(matches) == 0 {
			continue
		}
		switch p.kind {
		case kindUPIHandle:
			out.UPIHandles = unionStrings(out.UPIHandles, matches)
		case kindPhishingLink:
			out.PhishingLinks = unionStrings(out.PhishingLinks, matches)
		case kindBankAccount:
			cleaned := make([]string, 0, len(matches))
			for _, m := range matches {
				cleaned = append(cleaned, sepStripper.Replace(m))
			}
			out.BankAccounts = unionStrings(out.BankAccounts, cleaned)
		}
	}
	return out
}
