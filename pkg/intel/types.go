// Package intel models extracted forensic identifiers and provides the local
// lexical extractor that produces them without any external call.
package intel

// Intelligence holds the identifiers harvested from scammer messages.
// All list fields are deduplicated sets; insertion order is first-seen and
// carries no meaning.
type Intelligence struct {
	UPIHandles    []string `json:"upi_handles"`
	BankAccounts  []string `json:"bank_accounts"`
	PhishingLinks []string `json:"phishing_links"`
	PhoneNumbers  []string `json:"phone_numbers"`
	Keywords      []string `json:"keywords"`
	Notes         string   `json:"notes,omitempty"`
}

// Empty reports whether no identifiers were extracted.
func (in Intelligence) Empty() bool {
	return len(in.UPIHandles) == 0 && len(in.BankAccounts) == 0 &&
		len(in.PhishingLinks) == 0 && len(in.PhoneNumbers) == 0 &&
		len(in.Keywords) == 0 && in.Notes == ""
}

// Values returns every identifier value across the set-valued fields,
// in field order. Used for occurrence recording and fingerprint summaries.
func (in Intelligence) Values() []string {
	out := make([]string, 0, len(in.UPIHandles)+len(in.BankAccounts)+len(in.PhishingLinks)+len(in.PhoneNumbers))
	out = append(out, in.UPIHandles...)
	out = append(out, in.BankAccounts...)
	out = append(out, in.PhishingLinks...)
	out = append(out, in.PhoneNumbers...)
	return out
}

// Merge unions two intelligence records field by field. Merging a record with
// itself (or an empty record) is a no-op; duplicates never accumulate.
func Merge(a, b Intelligence) Intelligence {
	out := Intelligence{
		UPIHandles:    unionStrings(a.UPIHandles, b.UPIHandles),
		BankAccounts:  unionStrings(a.BankAccounts, b.BankAccounts),
		PhishingLinks: unionStrings(a.PhishingLinks, b.PhishingLinks),
		PhoneNumbers:  unionStrings(a.PhoneNumbers, b.PhoneNumbers),
		Keywords:      unionStrings(a.Keywords, b.Keywords),
		Notes:         a.Notes,
	}
	if out.Notes == "" {
		out.Notes = b.Notes
	} else if b.Notes != "" && b.Notes != a.Notes {
		out.Notes = a.Notes + "; " + b.Notes
	}
	return out
}

// unionStrings merges two slices preserving first-seen order.
func unionStrings(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if _, ok := seen[s]; !ok && s != "" {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	for _, s := range b {
		if _, ok := seen[s]; !ok && s != "" {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
