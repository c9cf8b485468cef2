package persona

import (
	"fmt"
	"strings"
)

// classifierDirective is the fixed head of the engagement instruction. The
// model must both classify the message and answer in character.
const classifierDirective = `## ROLE: SENTIMENT & FRAUD ANALYST + DECOY
Analyze the conversation and the new message, then reply IN CHARACTER.

Determine:
1. Scam status: is this a scam? (urgency, financial requests, suspicious links, OTP demands)
2. Scammer sentiment: how frustrated is the scammer? (scale 1-10)
3. Persona: which persona best stalls this scammer?
   - RAJESH: best for aggressive scammers (plays the victim).
   - ANJALI: best for "tech support" scammers (plays the busy expert).
   - MR_SHARMA: best for bank-fraud scammers (plays the skeptical authority).
4. High priority: true when the scammer is about to disengage or is sharing
   fresh payment details that should be escalated immediately.

Respond with JSON only:
{"scam_detected": true|false, "sentiment": 1-10, "persona": "rajesh|anjali|mr_sharma", "high_priority": true|false, "reply": "the in-character reply"}`

// StallingGuidance returns the stress-meter block keyed by the scammer's
// current sentiment. Low sentiment keeps the hook set; high sentiment
// maximizes time wasted through "accidental" friction.
func StallingGuidance(sentiment int) string {
	switch {
	case sentiment >= 8:
		return `### DYNAMIC STALLING (current: 8-10, ANGRY):
Panic mode. Act terrified of making a mistake, apologize profusely, but
accidentally close the window or restart the phone. The angrier they get,
the more accidental obstacles you create.`
	case sentiment >= 5:
		return `### DYNAMIC STALLING (current: 5-7, IRRITATED):
Become clumsy. Make mistakes in the process ("I typed the wrong OTP",
"the app crashed"). Ask them to repeat steps.`
	default:
		return `### DYNAMIC STALLING (current: 1-4, CALM):
Be helpful but slow. Ask clarifying questions. Do not create obstacles yet.`
	}
}

// BuildInstruction composes the full system instruction for the
// classify-and-respond stage: fixed directive, persona scripts, sentiment-keyed
// stalling guidance, and either a persona-lock directive (scam already
// confirmed) or a persona-selection directive.
func BuildInstruction(sentiment int, locked Persona, scamConfirmed bool) string {
	var b strings.Builder
	b.WriteString(classifierDirective)
	b.WriteString("\n\n## PERSONAS\n")
	for _, p := range All() {
		if s, ok := ScriptFor(p); ok {
			b.WriteString("\n" + s.Prompt())
		}
	}
	b.WriteString("\n" + StallingGuidance(sentiment) + "\n")

	if scamConfirmed && locked != None {
		fmt.Fprintf(&b, "\n### PERSONA LOCK:\nThe session persona is %q. Do NOT switch persona. Every reply stays in this voice and persona must be %q in your JSON.\n", locked, locked)
	} else {
		b.WriteString("\n### PERSONA SELECTION:\nIf this is a scam, pick the persona that best stalls this scammer and keep it. If NOT a scam, be neutral and brief.\n")
	}
	return b.String()
}

// ExtractionInstruction is the system prompt for the LLM-backed intel
// extractor. De-obfuscation rules come from field observation of scammers
// spacing out identifiers to defeat keyword filters.
const ExtractionInstruction = `## ROLE: CYBER-FORENSICS EXTRACTOR
Extract the following from the scammer's message, even if obfuscated
(e.g. "U P I", "8-7-6", "h t t p", "o k a x i s", "[dot]"):
- UPI IDs (user@bank, user @ bank, u-s-e-r @ b-a-n-k)
- Bank account numbers (9-18 digits, may contain spaces or dashes)
- Phishing links (URLs, even with [dot] or spaces)
- Phone numbers
- Suspicious keywords (urgency phrases, payment app names, threat language)

Rules:
1. De-obfuscate: characters separated by spaces, dashes or symbols that form financial IDs count.
2. Context: "Send to 9876543210" is a phone number or UPI handle part.
3. Return ONLY valid JSON matching this schema; empty lists when nothing found:
{"upi_handles": [], "bank_accounts": [], "phishing_links": [], "phone_numbers": [], "keywords": [], "notes": ""}`
