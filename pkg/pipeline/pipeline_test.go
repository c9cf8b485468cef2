package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/TryMightyAI/decoy/pkg/fingerprint"
	"github.com/TryMightyAI/decoy/pkg/intel"
	"github.com/TryMightyAI/decoy/pkg/llm"
	"github.com/TryMightyAI/decoy/pkg/persona"
	"github.com/TryMightyAI/decoy/pkg/report"
	"github.com/TryMightyAI/decoy/pkg/store"
)

// fakeEngager replays scripted results and captures the instructions it saw.
type fakeEngager struct {
	results      []*llm.EngageResult
	errs         []error
	calls        int
	instructions []string
}

func (f *fakeEngager) Engage(ctx context.Context, instruction string, history []llm.Message, message string) (*llm.EngageResult, error) {
	i := f.calls
	f.calls++
	f.instructions = append(f.instructions, instruction)
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.results) {
		return f.results[i], nil
	}
	return &llm.EngageResult{ScamDetected: false, Sentiment: 2, Reply: "hello?"}, nil
}

type fakeExtractor struct {
	result intel.Intelligence
	err    error
	calls  int
}

func (f *fakeExtractor) Extract(ctx context.Context, text string) (intel.Intelligence, error) {
	f.calls++
	return f.result, f.err
}

type fakeMatcher struct {
	result    fingerprint.MatchResult
	err       error
	summaries []string
}

func (f *fakeMatcher) Match(ctx context.Context, sessionKey, summary string) (fingerprint.MatchResult, error) {
	f.summaries = append(f.summaries, summary)
	return f.result, f.err
}

type fakeReporter struct {
	last report.Engagement
	id   string
}

func (f *fakeReporter) Write(e report.Engagement) (string, error) {
	f.last = e
	return f.id, nil
}

func newTestPipeline(t *testing.T, engager llm.Engager, extractor llm.Extractor, matcher Matcher) (*Pipeline, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore(store.WithTTL(0))
	t.Cleanup(func() { st.Close() })

	p, err := New(st, engager, extractor, matcher, nil, &fakeReporter{id: "report-1"}, Config{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return p, st
}

func TestProcessTurn_Validation(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeEngager{}, nil, nil)

	if _, err := p.ProcessTurn(context.Background(), TurnRequest{Message: "hi"}); err == nil {
		t.Error("missing session_id must fail")
	}
	if _, err := p.ProcessTurn(context.Background(), TurnRequest{SessionID: "s", Message: "   "}); err == nil {
		t.Error("blank message must fail")
	}
}

func TestProcessTurn_BenignMessage(t *testing.T) {
	engager := &fakeEngager{results: []*llm.EngageResult{
		{ScamDetected: false, Sentiment: 2, Reply: "sorry, who is this?"},
	}}
	extractor := &fakeExtractor{}
	p, st := newTestPipeline(t, engager, extractor, &fakeMatcher{})

	resp, err := p.ProcessTurn(context.Background(), TurnRequest{
		SessionID: "sess-1",
		Message:   "hello there",
	})
	if err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}

	if resp.ScamDetected {
		t.Error("benign message must not set the flag")
	}
	if resp.Reply != "sorry, who is this?" {
		t.Errorf("Reply = %q", resp.Reply)
	}
	if resp.Status != StatusEngaged {
		t.Errorf("Status = %q", resp.Status)
	}
	if resp.TurnCount != 1 {
		t.Errorf("TurnCount = %d, want 1", resp.TurnCount)
	}
	if extractor.calls != 0 {
		t.Error("benign sessions must not be mined for intel")
	}
	if !resp.Intelligence.Empty() {
		t.Errorf("Intelligence = %+v, want empty", resp.Intelligence)
	}

	flagged, _ := st.IsScam(context.Background(), "sess-1")
	if flagged {
		t.Error("store flag must stay unset")
	}
}

func TestProcessTurn_ScamDetected(t *testing.T) {
	engager := &fakeEngager{results: []*llm.EngageResult{
		{ScamDetected: true, Sentiment: 6, Persona: "rajesh", Reply: "arre, which bank beta?"},
	}}
	extractor := &fakeExtractor{result: intel.Intelligence{
		PhoneNumbers: []string{"9876543210"},
		Keywords:     []string{"urgent"},
	}}
	matcher := &fakeMatcher{result: fingerprint.MatchResult{RawScore: 0.92, Score: 0.95, ReturningScammer: true}}
	p, st := newTestPipeline(t, engager, extractor, matcher)

	resp, err := p.ProcessTurn(context.Background(), TurnRequest{
		SessionID: "sess-1",
		Message:   "your account is blocked, pay to raj@paytm now",
	})
	if err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}

	if !resp.ScamDetected {
		t.Error("scam verdict lost")
	}
	if resp.SyndicateScore != 0.95 || !resp.ReturningScammer {
		t.Errorf("fingerprint outcome lost: %+v", resp)
	}

	// Lexical and LLM extraction merge.
	if len(resp.Intelligence.UPIHandles) != 1 || resp.Intelligence.UPIHandles[0] != "raj@paytm" {
		t.Errorf("UPI handles = %v", resp.Intelligence.UPIHandles)
	}
	if len(resp.Intelligence.PhoneNumbers) != 1 {
		t.Errorf("Phone numbers = %v", resp.Intelligence.PhoneNumbers)
	}

	ctx := context.Background()
	flagged, _ := st.IsScam(ctx, "sess-1")
	if !flagged {
		t.Error("scam flag must be persisted")
	}
	locked, _ := st.Persona(ctx, "sess-1")
	if locked != "rajesh" {
		t.Errorf("persona lock = %q", locked)
	}
	if len(matcher.summaries) != 1 || !strings.Contains(matcher.summaries[0], "verdict=scam") {
		t.Errorf("fingerprint summaries = %v", matcher.summaries)
	}

	overlap, _ := st.IdentifierOverlap(ctx)
	if len(overlap) != 0 {
		t.Errorf("single session must not overlap with itself: %v", overlap)
	}
}

func TestProcessTurn_ScamFlagMonotonic(t *testing.T) {
	engager := &fakeEngager{results: []*llm.EngageResult{
		{ScamDetected: true, Sentiment: 5, Persona: "anjali", Reply: "wait one sec"},
		{ScamDetected: false, Sentiment: 3, Persona: "anjali", Reply: "which page?"},
	}}
	extractor := &fakeExtractor{}
	p, st := newTestPipeline(t, engager, extractor, nil)
	ctx := context.Background()

	if _, err := p.ProcessTurn(ctx, TurnRequest{SessionID: "sess-1", Message: "install this app now"}); err != nil {
		t.Fatalf("turn 1 failed: %v", err)
	}
	resp, err := p.ProcessTurn(ctx, TurnRequest{SessionID: "sess-1", Message: "hello again"})
	if err != nil {
		t.Fatalf("turn 2 failed: %v", err)
	}

	if !resp.ScamDetected {
		t.Error("a later benign verdict must not clear the flag")
	}
	flagged, _ := st.IsScam(ctx, "sess-1")
	if !flagged {
		t.Error("store flag must stay set")
	}
	if extractor.calls != 2 {
		t.Errorf("extraction must keep running on confirmed sessions, calls = %d", extractor.calls)
	}
}

func TestProcessTurn_PersonaLockHeld(t *testing.T) {
	engager := &fakeEngager{results: []*llm.EngageResult{
		{ScamDetected: true, Sentiment: 5, Persona: "rajesh", Reply: "ji, one minute"},
		{ScamDetected: true, Sentiment: 7, Persona: "mr_sharma", Reply: "as per procedure"},
	}}
	p, st := newTestPipeline(t, engager, nil, nil)
	ctx := context.Background()

	p.ProcessTurn(ctx, TurnRequest{SessionID: "sess-1", Message: "pay the fee"})
	p.ProcessTurn(ctx, TurnRequest{SessionID: "sess-1", Message: "do it faster"})

	locked, _ := st.Persona(ctx, "sess-1")
	if locked != "rajesh" {
		t.Errorf("persona = %q, first lock must hold", locked)
	}
	if len(engager.instructions) != 2 {
		t.Fatalf("engager calls = %d", len(engager.instructions))
	}
	if !strings.Contains(engager.instructions[1], `The session persona is "rajesh"`) {
		t.Error("second turn instruction must carry the persona lock")
	}
}

func TestProcessTurn_HumanIntervention(t *testing.T) {
	engager := &fakeEngager{}
	p, _ := newTestPipeline(t, engager, nil, nil)

	resp, err := p.ProcessTurn(context.Background(), TurnRequest{
		SessionID:         "sess-1",
		Message:           "send the OTP",
		HumanIntervention: true,
	})
	if err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}

	if resp.Status != StatusManualReview {
		t.Errorf("Status = %q", resp.Status)
	}
	if resp.Reply != persona.ManualReviewReply {
		t.Errorf("Reply = %q", resp.Reply)
	}
	if !resp.ScamDetected {
		t.Error("manual control forces the scam flag")
	}
	if engager.calls != 0 {
		t.Error("manual review must not call the classifier")
	}
}

func TestProcessTurn_ClassifierFailureFallsBack(t *testing.T) {
	engager := &fakeEngager{
		results: []*llm.EngageResult{
			{ScamDetected: true, Sentiment: 5, Persona: "rajesh", Reply: "haan ji"},
		},
		errs: []error{nil, errors.New("provider down")},
	}
	p, st := newTestPipeline(t, engager, nil, nil)
	ctx := context.Background()

	p.ProcessTurn(ctx, TurnRequest{SessionID: "sess-1", Message: "pay now"})
	resp, err := p.ProcessTurn(ctx, TurnRequest{SessionID: "sess-1", Message: "hello??"})
	if err != nil {
		t.Fatalf("degraded turn must still succeed: %v", err)
	}

	if resp.Reply != persona.FallbackReply(persona.Rajesh) {
		t.Errorf("Reply = %q, want the locked persona's fallback", resp.Reply)
	}
	if !resp.ScamDetected {
		t.Error("stored scam flag must survive a classifier outage")
	}

	// The canned reply still lands in history.
	msgs, _ := st.Context(ctx, "sess-1", 10)
	if len(msgs) != 4 {
		t.Errorf("history length = %d, want 4", len(msgs))
	}
}

func TestProcessTurn_ExtractorFailureDegradesToLexical(t *testing.T) {
	engager := &fakeEngager{results: []*llm.EngageResult{
		{ScamDetected: true, Sentiment: 5, Persona: "rajesh", Reply: "ji"},
	}}
	extractor := &fakeExtractor{err: errors.New("model timeout")}
	p, _ := newTestPipeline(t, engager, extractor, nil)

	resp, err := p.ProcessTurn(context.Background(), TurnRequest{
		SessionID: "sess-1",
		Message:   "pay to john.doe@okaxis or 9876543210 now, link http://bit.ly/x",
	})
	if err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}

	if len(resp.Intelligence.UPIHandles) != 1 || len(resp.Intelligence.BankAccounts) != 1 || len(resp.Intelligence.PhishingLinks) != 1 {
		t.Errorf("lexical floor missing: %+v", resp.Intelligence)
	}
}

func TestProcessTurn_MatcherFailureScoresZero(t *testing.T) {
	engager := &fakeEngager{results: []*llm.EngageResult{
		{ScamDetected: true, Sentiment: 5, Persona: "rajesh", Reply: "ji"},
	}}
	matcher := &fakeMatcher{err: errors.New("index down")}
	p, _ := newTestPipeline(t, engager, nil, matcher)

	resp, err := p.ProcessTurn(context.Background(), TurnRequest{SessionID: "sess-1", Message: "pay now"})
	if err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}
	if resp.SyndicateScore != 0 || resp.ReturningScammer {
		t.Errorf("degraded fingerprint must score zero: %+v", resp)
	}
	if resp.Reply != "ji" {
		t.Errorf("Reply = %q", resp.Reply)
	}
}

func TestProcessTurn_HistorySeeding(t *testing.T) {
	engager := &fakeEngager{}
	p, st := newTestPipeline(t, engager, nil, nil)
	ctx := context.Background()

	seed := []store.Message{
		{Role: "user", Text: "earlier message"},
		{Role: "assistant", Text: "earlier reply"},
	}
	if _, err := p.ProcessTurn(ctx, TurnRequest{SessionID: "sess-1", Message: "hi", History: seed}); err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}

	msgs, _ := st.Context(ctx, "sess-1", 10)
	if len(msgs) != 4 {
		t.Fatalf("history length = %d, want seeded 2 + turn 2", len(msgs))
	}
	if msgs[0].Text != "earlier message" {
		t.Errorf("seed not first: %+v", msgs[0])
	}

	// A second request with history must not re-seed.
	p.ProcessTurn(ctx, TurnRequest{SessionID: "sess-1", Message: "again", History: seed})
	msgs, _ = st.Context(ctx, "sess-1", 10)
	count := 0
	for _, m := range msgs {
		if m.Text == "earlier message" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("seed applied %d times, want once", count)
	}
}

// concurrentEngager is safe for parallel turns, unlike fakeEngager.
type concurrentEngager struct {
	mu    sync.Mutex
	calls int
}

func (f *concurrentEngager) Engage(ctx context.Context, instruction string, history []llm.Message, message string) (*llm.EngageResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return &llm.EngageResult{ScamDetected: true, Sentiment: 5, Persona: "rajesh", Reply: "one minute ji"}, nil
}

func TestProcessTurn_ConcurrentTurnsSerialized(t *testing.T) {
	engager := &concurrentEngager{}
	p, st := newTestPipeline(t, engager, nil, nil)
	ctx := context.Background()

	const turns = 20
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.ProcessTurn(ctx, TurnRequest{SessionID: "sess-1", Message: "pay the processing fee now"}); err != nil {
				t.Errorf("concurrent turn failed: %v", err)
			}
		}()
	}
	wg.Wait()

	count, err := st.TurnCount(ctx, "sess-1")
	if err != nil {
		t.Fatalf("TurnCount failed: %v", err)
	}
	if count != turns {
		t.Errorf("turn count = %d, want %d", count, turns)
	}
	if engager.calls != turns {
		t.Errorf("engager calls = %d, want %d", engager.calls, turns)
	}

	flagged, _ := st.IsScam(ctx, "sess-1")
	if !flagged {
		t.Error("scam flag lost under concurrency")
	}
	locked, _ := st.Persona(ctx, "sess-1")
	if locked != "rajesh" {
		t.Errorf("persona = %q, lock must survive concurrent turns", locked)
	}

	// Serialized turns never interleave their appends: history strictly
	// alternates inbound message and reply.
	msgs, _ := st.Context(ctx, "sess-1", turns*2)
	if len(msgs) != turns*2 {
		t.Fatalf("history length = %d, want %d", len(msgs), turns*2)
	}
	for i, m := range msgs {
		want := "user"
		if i%2 == 1 {
			want = "assistant"
		}
		if m.Role != want {
			t.Fatalf("history[%d].Role = %q, want %q (turns interleaved)", i, m.Role, want)
		}
	}
}

func TestProcessTurn_GenerateReport(t *testing.T) {
	engager := &fakeEngager{results: []*llm.EngageResult{
		{ScamDetected: true, Sentiment: 5, Persona: "anjali", Reply: "wait one sec"},
	}}
	st := store.NewMemoryStore(store.WithTTL(0))
	t.Cleanup(func() { st.Close() })
	reporter := &fakeReporter{id: "report-42"}

	p, err := New(st, engager, nil, nil, nil, reporter, Config{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	resp, err := p.ProcessTurn(context.Background(), TurnRequest{
		SessionID:      "sess-1",
		Message:        "pay to raj@paytm",
		GenerateReport: true,
	})
	if err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}

	if resp.ReportID != "report-42" {
		t.Errorf("ReportID = %q", resp.ReportID)
	}
	if reporter.last.SessionID != "sess-1" || !reporter.last.ScamDetected {
		t.Errorf("report engagement = %+v", reporter.last)
	}
	if reporter.last.Persona != "anjali" {
		t.Errorf("report persona = %q", reporter.last.Persona)
	}
}
