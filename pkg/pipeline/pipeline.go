// Package pipeline runs the per-turn engagement loop: load session state,
// classify and respond in persona, extract intelligence, fingerprint the
// scammer, persist. Every stage degrades rather than fails the turn; the
// caller always gets a persona-consistent reply.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/TryMightyAI/decoy/pkg/fingerprint"
	"github.com/TryMightyAI/decoy/pkg/httputil"
	"github.com/TryMightyAI/decoy/pkg/intel"
	"github.com/TryMightyAI/decoy/pkg/llm"
	"github.com/TryMightyAI/decoy/pkg/notify"
	"github.com/TryMightyAI/decoy/pkg/persona"
	"github.com/TryMightyAI/decoy/pkg/report"
	"github.com/TryMightyAI/decoy/pkg/store"
)

// Turn statuses.
const (
	StatusEngaged      = "engaged"
	StatusManualReview = "manual_review"
)

// notifyTimeout bounds the async intel callback delivery.
const notifyTimeout = 10 * time.Second

// TurnRequest is one inbound scammer message.
type TurnRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`

	// History optionally seeds a session the platform engaged elsewhere
	// before handing it over. Used only when the store has no context yet.
	History []store.Message `json:"history,omitempty"`

	// GenerateReport asks for an engagement report after this turn.
	GenerateReport bool `json:"generate_report,omitempty"`

	// HumanIntervention short-circuits the turn with a holding reply so an
	// operator can take over.
	HumanIntervention bool `json:"human_intervention,omitempty"`
}

// TurnResponse is the outcome of one turn.
type TurnResponse struct {
	SessionID        string             `json:"session_id"`
	Status           string             `json:"status"`
	Reply            string             `json:"reply"`
	ScamDetected     bool               `json:"scam_detected"`
	TurnCount        int                `json:"turn_count"`
	SyndicateScore   float64            `json:"syndicate_score"`
	ReturningScammer bool               `json:"returning_scammer"`
	Intelligence     intel.Intelligence `json:"intelligence"`
	ReportID         string             `json:"report_id,omitempty"`
}

// Matcher is the fingerprint collaborator contract.
type Matcher interface {
	Match(ctx context.Context, sessionKey, summary string) (fingerprint.MatchResult, error)
}

// Reporter writes engagement reports.
type Reporter interface {
	Write(e report.Engagement) (string, error)
}

// Config tunes the pipeline.
type Config struct {
	ContextWindow  int // messages of history handed to the classifier
	MaxSideEffects int // cap on in-flight async side effects
}

// Pipeline wires the collaborators for the per-turn loop.
type Pipeline struct {
	store     store.Store
	engager   llm.Engager
	extractor llm.Extractor
	matcher   Matcher
	notifier  *notify.Notifier
	reports   Reporter

	locks       *sessionLocks
	sideEffects *httputil.Semaphore
	wg          sync.WaitGroup

	contextWindow int

	// stress tracks the scammer's sentiment per session between turns so the
	// stalling guidance can escalate. Ephemeral; a restart resets it to calm,
	// which only costs one turn of calibration.
	stressMu sync.Mutex
	stress   map[string]int
}

// New creates a pipeline. Store and engager are required; extractor, matcher,
// notifier and reporter may be nil and their stages degrade accordingly.
func New(st store.Store, engager llm.Engager, extractor llm.Extractor, matcher Matcher, notifier *notify.Notifier, reports Reporter, cfg Config) (*Pipeline, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if engager == nil {
		return nil, fmt.Errorf("engager is required")
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = 15
	}
	return &Pipeline{
		store:         st,
		engager:       engager,
		extractor:     extractor,
		matcher:       matcher,
		notifier:      notifier,
		reports:       reports,
		locks:         newSessionLocks(),
		sideEffects:   httputil.NewSemaphore(cfg.MaxSideEffects),
		contextWindow: cfg.ContextWindow,
		stress:        make(map[string]int),
	}, nil
}

// ProcessTurn runs the full loop for one inbound message. Turns for the same
// session are serialized; turns for different sessions run concurrently.
func (p *Pipeline) ProcessTurn(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	if req.SessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("message is required")
	}

	release := p.locks.acquire(req.SessionID)
	defer release()

	// LOAD. Store failures fail open: an unreadable session is treated as
	// fresh rather than dropping the turn.
	scamConfirmed, err := p.store.IsScam(ctx, req.SessionID)
	if err != nil {
		log.Printf("[PIPELINE] Failed to load scam flag, assuming fresh session: session=%s err=%v", req.SessionID, err)
		scamConfirmed = false
	}
	lockedPersona, err := p.store.Persona(ctx, req.SessionID)
	if err != nil {
		log.Printf("[PIPELINE] Failed to load persona: session=%s err=%v", req.SessionID, err)
		lockedPersona = ""
	}
	p.seedHistory(ctx, req)

	history, err := p.store.Context(ctx, req.SessionID, p.contextWindow)
	if err != nil {
		log.Printf("[PIPELINE] Failed to load context, classifying without history: session=%s err=%v", req.SessionID, err)
		history = nil
	}

	if err := p.store.AppendMessage(ctx, req.SessionID, "user", req.Message); err != nil {
		log.Printf("[PIPELINE] Failed to persist inbound message: session=%s err=%v", req.SessionID, err)
	}

	// An operator only takes over confirmed engagements, so manual control
	// forces the scam flag.
	if req.HumanIntervention {
		if !scamConfirmed {
			if err := p.store.MarkScam(ctx, req.SessionID); err != nil {
				log.Printf("[PIPELINE] Failed to persist scam flag: session=%s err=%v", req.SessionID, err)
			}
		}
		return p.finishTurn(ctx, req, turnState{
			reply:         persona.ManualReviewReply,
			status:        StatusManualReview,
			scamConfirmed: true,
			lockedPersona: lockedPersona,
		})
	}

	// CLASSIFY_AND_RESPOND.
	state := p.classify(ctx, req, history, scamConfirmed, lockedPersona)

	// EXTRACT. Only confirmed scam sessions are mined; benign callers are
	// not surveilled.
	if state.scamConfirmed {
		state.intelligence = p.extract(ctx, req)
		if vals := state.intelligence.Values(); len(vals) > 0 {
			if err := p.store.RecordIdentifiers(ctx, req.SessionID, vals); err != nil {
				log.Printf("[PIPELINE] Failed to record identifiers: session=%s err=%v", req.SessionID, err)
			}
		}
	}

	// FINGERPRINT.
	if state.scamConfirmed && p.matcher != nil {
		summary := fingerprint.Summary(true, state.sentiment, state.lockedPersona, state.intelligence)
		match, err := p.matcher.Match(ctx, req.SessionID, summary)
		if err != nil {
			log.Printf("[PIPELINE] Fingerprint matching degraded: session=%s err=%v", req.SessionID, err)
		}
		state.syndicateScore = match.Score
		state.returning = match.ReturningScammer
	}

	return p.finishTurn(ctx, req, state)
}

// turnState accumulates the outcome of the middle stages.
type turnState struct {
	reply          string
	status         string
	scamConfirmed  bool
	lockedPersona  string
	sentiment      int
	highPriority   bool
	intelligence   intel.Intelligence
	syndicateScore float64
	returning      bool
}

// seedHistory imports platform-provided history into an empty session.
func (p *Pipeline) seedHistory(ctx context.Context, req TurnRequest) {
	if len(req.History) == 0 {
		return
	}
	turns, err := p.store.TurnCount(ctx, req.SessionID)
	if err != nil || turns > 0 {
		return
	}
	for _, m := range req.History {
		if err := p.store.AppendMessage(ctx, req.SessionID, m.Role, m.Text); err != nil {
			log.Printf("[PIPELINE] Failed to seed history: session=%s err=%v", req.SessionID, err)
			return
		}
	}
}

// classify runs the persona-driven classifier and enforces the monotonic
// scam flag and the persona lock on its output.
func (p *Pipeline) classify(ctx context.Context, req TurnRequest, history []store.Message, scamConfirmed bool, lockedPersona string) turnState {
	state := turnState{
		status:        StatusEngaged,
		scamConfirmed: scamConfirmed,
		lockedPersona: lockedPersona,
		sentiment:     p.lastStress(req.SessionID),
	}

	instruction := persona.BuildInstruction(state.sentiment, persona.Parse(lockedPersona), scamConfirmed)
	result, err := p.engager.Engage(ctx, instruction, toLLMMessages(history), req.Message)
	if err != nil {
		log.Printf("[PIPELINE] Classifier exhausted retries, using fallback reply: session=%s err=%v", req.SessionID, err)
		state.reply = persona.FallbackReply(persona.Parse(lockedPersona))
		return state
	}

	state.reply = result.Reply
	state.sentiment = result.Sentiment
	state.highPriority = result.HighPriority
	p.setStress(req.SessionID, result.Sentiment)

	// Monotonic flag: a later "benign" verdict never clears a confirmed scam.
	if scamConfirmed && !result.ScamDetected {
		log.Printf("[PIPELINE] Classifier tried to clear the scam flag, keeping it set: session=%s", req.SessionID)
	}
	if result.ScamDetected && !scamConfirmed {
		state.scamConfirmed = true
		if err := p.store.MarkScam(ctx, req.SessionID); err != nil {
			log.Printf("[PIPELINE] Failed to persist scam flag: session=%s err=%v", req.SessionID, err)
		}
	}

	// Persona lock: first persona wins for the life of the session.
	chosen := string(persona.Parse(result.Persona))
	switch {
	case lockedPersona == "" && chosen != "":
		state.lockedPersona = chosen
		if err := p.store.LockPersona(ctx, req.SessionID, chosen); err != nil {
			log.Printf("[PIPELINE] Failed to persist persona lock: session=%s err=%v", req.SessionID, err)
		}
	case lockedPersona != "" && chosen != "" && chosen != lockedPersona:
		log.Printf("[PIPELINE] Classifier tried to switch persona %s -> %s, keeping lock: session=%s",
			lockedPersona, chosen, req.SessionID)
	}
	return state
}

// extract merges the lexical and LLM extraction passes. Either side may fail
// or be absent; the union of whatever succeeded is returned.
func (p *Pipeline) extract(ctx context.Context, req TurnRequest) intel.Intelligence {
	merged := intel.Extract(req.Message)
	if p.extractor == nil {
		return merged
	}
	mined, err := p.extractor.Extract(ctx, req.Message)
	if err != nil {
		log.Printf("[PIPELINE] LLM extraction degraded to lexical only: session=%s err=%v", req.SessionID, err)
		return merged
	}
	return intel.Merge(merged, mined)
}

// finishTurn persists the reply, fires side effects and builds the response.
// Persistence failures are logged, never returned: the reply already exists
// and dropping it would end the engagement.
func (p *Pipeline) finishTurn(ctx context.Context, req TurnRequest, state turnState) (*TurnResponse, error) {
	if err := p.store.AppendMessage(ctx, req.SessionID, "assistant", state.reply); err != nil {
		log.Printf("[PIPELINE] Failed to persist reply: session=%s err=%v", req.SessionID, err)
	}

	turns, err := p.store.TurnCount(ctx, req.SessionID)
	if err != nil {
		log.Printf("[PIPELINE] Failed to read turn count: session=%s err=%v", req.SessionID, err)
	}

	resp := &TurnResponse{
		SessionID:        req.SessionID,
		Status:           state.status,
		Reply:            state.reply,
		ScamDetected:     state.scamConfirmed,
		TurnCount:        turns,
		SyndicateScore:   state.syndicateScore,
		ReturningScammer: state.returning,
		Intelligence:     state.intelligence,
	}

	if req.GenerateReport && state.scamConfirmed && p.reports != nil {
		id, err := p.reports.Write(report.Engagement{
			SessionID:        req.SessionID,
			ScamDetected:     state.scamConfirmed,
			Persona:          state.lockedPersona,
			TurnCount:        turns,
			SyndicateScore:   state.syndicateScore,
			ReturningScammer: state.returning,
			Intelligence:     state.intelligence,
		})
		if err != nil {
			log.Printf("[PIPELINE] Failed to write report: session=%s err=%v", req.SessionID, err)
		} else {
			resp.ReportID = id
		}
	}

	// Callback fires on fresh intel, or immediately on a high-priority turn
	// (scammer about to disengage, fresh payment details).
	if state.scamConfirmed && p.notifier != nil && (!state.intelligence.Empty() || state.highPriority) {
		p.notifyAsync(notify.Payload{
			SessionID:        req.SessionID,
			Timestamp:        time.Now().UTC(),
			ScamDetected:     state.scamConfirmed,
			HighPriority:     state.highPriority,
			TurnCount:        turns,
			SyndicateScore:   state.syndicateScore,
			ReturningScammer: state.returning,
			Intelligence:     state.intelligence,
		})
	}
	return resp, nil
}

// notifyAsync delivers the intel callback without blocking the reply. When
// the side-effect semaphore is saturated the callback is dropped and counted.
func (p *Pipeline) notifyAsync(payload notify.Payload) {
	if !p.sideEffects.TryAcquire() {
		log.Printf("[PIPELINE] Side-effect limit reached, dropping intel callback: session=%s (dropped=%d)",
			payload.SessionID, p.sideEffects.DroppedCount())
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sideEffects.Release()

		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := p.notifier.Send(ctx, payload); err != nil {
			log.Printf("[PIPELINE] Intel callback failed: session=%s err=%v", payload.SessionID, err)
		}
	}()
}

// Drain waits for in-flight side effects, for shutdown and tests.
func (p *Pipeline) Drain() {
	p.wg.Wait()
}

func (p *Pipeline) lastStress(session string) int {
	p.stressMu.Lock()
	defer p.stressMu.Unlock()
	if s, ok := p.stress[session]; ok {
		return s
	}
	return 3
}

func (p *Pipeline) setStress(session string, sentiment int) {
	p.stressMu.Lock()
	defer p.stressMu.Unlock()
	p.stress[session] = sentiment
}

func toLLMMessages(history []store.Message) []llm.Message {
	msgs := make([]llm.Message, 0, len(history))
	for _, m := range history {
		role := m.Role
		if role != "assistant" {
			role = "user"
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Text})
	}
	return msgs
}
