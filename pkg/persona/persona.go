// Package persona defines the decoy's behavioral scripts. Each persona is a
// fixed script used only as prompt content for the engagement classifier;
// the pipeline treats the persona identity as an opaque tag.
package persona

import "strings"

// Persona identifies one of the closed set of decoy characters.
type Persona string

const (
	// Rajesh plays the terrified, chatty victim. Best against aggressive scammers.
	Rajesh Persona = "rajesh"
	// Anjali plays the busy professional. Best against tech-support scammers.
	Anjali Persona = "anjali"
	// MrSharma plays the skeptical retired bank manager. Best against bank-fraud scammers.
	MrSharma Persona = "mr_sharma"
	// None means no persona has been locked for the session yet.
	None Persona = ""
)

// All returns the closed persona set in a stable order.
func All() []Persona {
	return []Persona{Rajesh, Anjali, MrSharma}
}

// Parse normalizes a persona tag from classifier output. Tolerates case,
// spacing and punctuation variants ("MR. SHARMA", "Mr Sharma", "mr-sharma").
// Unknown values map to None so a hallucinated persona never enters state.
func Parse(s string) Persona {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(".", "", " ", "_", "-", "_").Replace(norm)
	switch norm {
	case "rajesh":
		return Rajesh
	case "anjali":
		return Anjali
	case "mr_sharma", "sharma", "mrsharma":
		return MrSharma
	default:
		return None
	}
}

// Script is one persona's behavioral script: the role framing, the lock rules
// that keep the voice consistent, and the stalling tactics.
type Script struct {
	Name     string `yaml:"name"`
	Role     string `yaml:"role"`
	Lock     string `yaml:"lock"`
	Stalling string `yaml:"stalling"`
	Fallback string `yaml:"fallback"`
}

// Prompt renders the script as a prompt block for the classifier instruction.
func (s Script) Prompt() string {
	var b strings.Builder
	b.WriteString("## ROLE: " + s.Role + "\n")
	b.WriteString("### PERSONA LOCK:\n" + s.Lock + "\n")
	b.WriteString("### STALLING:\n" + s.Stalling + "\n")
	return b.String()
}

// ManualReviewReply is the fixed response emitted when a human analyst has
// taken manual control of the session.
const ManualReviewReply = "One moment please, I am checking this with my family member who understands these things."

// neutralFallback is used before any persona is locked.
const neutralFallback = "Hello? Sorry, who is this? I got a message from this number."

// FallbackReply returns a persona-appropriate canned reply for when the
// classifier is unreachable. The decoy must always say something; silence
// breaks the illusion.
func FallbackReply(p Persona) string {
	if s, ok := scripts()[p]; ok && s.Fallback != "" {
		return s.Fallback
	}
	return neutralFallback
}
