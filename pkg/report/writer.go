package report

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/TryMightyAI/decoy/pkg/intel"
)

// Engagement holds everything the report covers for one session.
type Engagement struct {
	SessionID        string
	ScamDetected     bool
	Persona          string
	TurnCount        int
	SyndicateScore   float64
	ReturningScammer bool
	Intelligence     intel.Intelligence
}

// Writer writes plain-text engagement reports to a directory.
type Writer struct {
	dir string
}

// NewWriter creates a writer rooted at dir, creating it if needed.
func NewWriter(dir string) (*Writer, error) {
	if dir == "" {
		dir = "reports"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}
	return &Writer{dir: dir}, nil
}

// Write renders the engagement report and writes it under a fresh report ID.
// Returns the report ID.
func (w *Writer) Write(e Engagement) (string, error) {
	id := uuid.NewString()

	var b strings.Builder
	fmt.Fprintf(&b, "ENGAGEMENT REPORT %s\n", id)
	fmt.Fprintf(&b, "Generated: %s\n\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Session:           %s\n", e.SessionID)
	fmt.Fprintf(&b, "Scam detected:     %t\n", e.ScamDetected)
	fmt.Fprintf(&b, "Persona:           %s\n", personaOrNone(e.Persona))
	fmt.Fprintf(&b, "Turns engaged:     %d\n", e.TurnCount)
	fmt.Fprintf(&b, "Syndicate score:   %.2f\n", e.SyndicateScore)
	fmt.Fprintf(&b, "Returning scammer: %t\n\n", e.ReturningScammer)

	writeSection(&b, "UPI handles", e.Intelligence.UPIHandles)
	writeSection(&b, "Bank accounts", e.Intelligence.BankAccounts)
	writeSection(&b, "Phishing links", e.Intelligence.PhishingLinks)
	writeSection(&b, "Phone numbers", e.Intelligence.PhoneNumbers)
	writeSection(&b, "Keywords", e.Intelligence.Keywords)
	if e.Intelligence.Notes != "" {
		fmt.Fprintf(&b, "Notes:\n  %s\n", e.Intelligence.Notes)
	}

	path := filepath.Join(w.dir, id+".txt")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	log.Printf("[REPORT] Engagement report written: %s", path)
	return id, nil
}

func writeSection(b *strings.Builder, title string, values []string) {
	if len(values) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", title)
	for _, v := range values {
		fmt.Fprintf(b, "  - %s\n", v)
	}
	b.WriteString("\n")
}

func personaOrNone(p string) string {
	if p == "" {
		return "none"
	}
	return p
}
