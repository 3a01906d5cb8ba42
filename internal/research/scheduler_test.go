package research

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/model"
	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/providers"
	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/verify"
)

type fakeFactCheck struct {
	result providers.FactCheckResult
	err    error
}

func (f *fakeFactCheck) Search(ctx context.Context, claimText string) (providers.FactCheckResult, error) {
	return f.result, f.err
}

type fakeLookup struct {
	finding model.ProviderFinding
	err     error
	calls   int
	mu      sync.Mutex
}

func (f *fakeLookup) Lookup(ctx context.Context, claimText string) (model.ProviderFinding, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.finding, f.err
}

func (f *fakeLookup) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeVerifier struct {
	result verify.Result
	err    error
}

func (f *fakeVerifier) Assess(ctx context.Context, req verify.Request) (verify.Result, error) {
	return f.result, f.err
}

// collector gathers emitted events and signals each claim.updated.
type collector struct {
	mu      sync.Mutex
	events  []model.Event
	updated chan model.Event
}

func newCollector() *collector {
	return &collector{updated: make(chan model.Event, 16)}
}

func (c *collector) emit(ev model.Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	if ev.Type == model.EventClaimUpdated {
		c.updated <- ev
	}
}

func (c *collector) waitUpdated(t *testing.T) model.Event {
	t.Helper()
	select {
	case ev := <-c.updated:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for claim.updated")
		return model.Event{}
	}
}

func (c *collector) types() []model.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.EventType, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.Type
	}
	return out
}

func generalClaim() *model.Claim {
	return &model.Claim{ID: "run-1-claim-0001", RunID: "run-1", Text: "crime fell by half", Category: model.CategoryGeneral}
}

func startScheduler(t *testing.T, p Providers, col *collector) *Scheduler {
	t.Helper()
	s := New(p, 2, col.emit)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	s.Start(ctx)
	return s
}

func TestResearchEmitsResearchingThenUpdated(t *testing.T) {
	col := newCollector()
	s := startScheduler(t, Providers{
		FactCheck: &fakeFactCheck{result: providers.FactCheckResult{
			Status: model.StatusResearched, State: model.EvidenceMatched,
			Verdict: model.VerdictFalse, Confidence: 0.9, Summary: "rated false",
		}},
		Fred:     &fakeLookup{},
		Congress: &fakeLookup{},
		Verifier: &fakeVerifier{result: verify.Result{AiVerdict: model.VerdictFalse, AiConfidence: 0.8}},
	}, col)

	s.Enqueue(generalClaim())
	ev := col.waitUpdated(t)

	types := col.types()
	if len(types) < 2 || types[0] != model.EventClaimResearching {
		t.Fatalf("event order = %v, want claim.researching first", types)
	}
	if ev.Outcome == nil {
		t.Fatal("claim.updated must carry the outcome")
	}
	if ev.Outcome.Verdict != model.VerdictFalse || ev.Outcome.Confidence != 0.9 {
		t.Errorf("verdict = %q/%v, want confident fact-check verdict to win", ev.Outcome.Verdict, ev.Outcome.Confidence)
	}
	if ev.Outcome.Fred.State != model.EvidenceNotApplicable {
		t.Errorf("fred state = %q, want not_applicable for general claim", ev.Outcome.Fred.State)
	}
}

func TestEconomicClaimWithoutMatchNeedsManual(t *testing.T) {
	fred := &fakeLookup{finding: model.ProviderFinding{State: model.EvidenceNone}}
	col := newCollector()
	s := startScheduler(t, Providers{
		FactCheck: &fakeFactCheck{result: providers.FactCheckResult{Status: model.StatusResearched, Verdict: model.VerdictUnverified}},
		Fred:      fred,
		Congress:  &fakeLookup{},
		Verifier:  &fakeVerifier{result: verify.Result{AiVerdict: model.VerdictTrue, AiConfidence: 0.7}},
	}, col)

	claim := generalClaim()
	claim.Category = model.CategoryEconomic
	s.Enqueue(claim)
	ev := col.waitUpdated(t)

	if fred.callCount() != 1 {
		t.Errorf("fred calls = %d, want 1", fred.callCount())
	}
	if ev.Outcome.Status != model.StatusNeedsManual {
		t.Errorf("status = %q, want needs_manual when the indicator misses", ev.Outcome.Status)
	}
}

func TestPoliticalClaimRoutesToCongress(t *testing.T) {
	congress := &fakeLookup{finding: model.ProviderFinding{State: model.EvidenceMatched, Summary: "HR 1234 passed the House"}}
	col := newCollector()
	s := startScheduler(t, Providers{
		FactCheck: &fakeFactCheck{result: providers.FactCheckResult{Status: model.StatusResearched, Verdict: model.VerdictUnverified}},
		Fred:      &fakeLookup{},
		Congress:  congress,
		Verifier:  &fakeVerifier{result: verify.Result{AiVerdict: model.VerdictTrue, AiConfidence: 0.6, EvidenceBasis: model.BasisCongressData}},
	}, col)

	claim := generalClaim()
	claim.Category = model.CategoryPolitical
	s.Enqueue(claim)
	ev := col.waitUpdated(t)

	if congress.callCount() != 1 {
		t.Errorf("congress calls = %d, want 1", congress.callCount())
	}
	if ev.Outcome.Verdict != model.VerdictTrue {
		t.Errorf("verdict = %q, want model verdict backed by congress match", ev.Outcome.Verdict)
	}
}

func TestProviderFailureDegradesToManual(t *testing.T) {
	col := newCollector()
	s := startScheduler(t, Providers{
		FactCheck: &fakeFactCheck{err: errors.New("upstream 500")},
		Fred:      &fakeLookup{},
		Congress:  &fakeLookup{},
		Verifier:  &fakeVerifier{},
	}, col)

	s.Enqueue(generalClaim())
	ev := col.waitUpdated(t)

	if ev.Outcome.Status != model.StatusNeedsManual {
		t.Errorf("status = %q, want needs_manual", ev.Outcome.Status)
	}
	if ev.Outcome.Verdict != model.VerdictUnverified {
		t.Errorf("verdict = %q, want unverified", ev.Outcome.Verdict)
	}
	if ev.Outcome.Google.State != model.EvidenceError {
		t.Errorf("google state = %q, want error", ev.Outcome.Google.State)
	}
}

func TestCancellationSuppressesUpdate(t *testing.T) {
	col := newCollector()
	s := New(Providers{
		FactCheck: &fakeFactCheck{err: context.Canceled},
		Fred:      &fakeLookup{},
		Congress:  &fakeLookup{},
		Verifier:  &fakeVerifier{},
	}, 1, col.emit)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	s.Enqueue(generalClaim())
	time.Sleep(100 * time.Millisecond)
	cancel()

	for _, typ := range col.types() {
		if typ == model.EventClaimUpdated {
			t.Error("cancellation must not emit claim.updated")
		}
	}
}

func TestSelectVerdict(t *testing.T) {
	tests := []struct {
		name     string
		fc       providers.FactCheckResult
		fred     model.ProviderFinding
		congress model.ProviderFinding
		ai       verify.Result
		verdict  model.Verdict
		conf     float64
	}{
		{
			name:    "confident fact-check wins",
			fc:      providers.FactCheckResult{Verdict: model.VerdictFalse, Confidence: 0.7},
			ai:      verify.Result{AiVerdict: model.VerdictTrue, AiConfidence: 0.95},
			verdict: model.VerdictFalse,
			conf:    0.7,
		},
		{
			name:    "weak fact-check defers to matched fred",
			fc:      providers.FactCheckResult{Verdict: model.VerdictFalse, Confidence: 0.3},
			fred:    model.ProviderFinding{State: model.EvidenceMatched},
			ai:      verify.Result{AiVerdict: model.VerdictMisleading, AiConfidence: 0.6},
			verdict: model.VerdictMisleading,
			conf:    0.6,
		},
		{
			name:     "congress match needs ai confidence",
			fc:       providers.FactCheckResult{Verdict: model.VerdictUnverified},
			congress: model.ProviderFinding{State: model.EvidenceMatched},
			ai:       verify.Result{AiVerdict: model.VerdictTrue, AiConfidence: 0.3},
			verdict:  model.VerdictUnverified,
			conf:     0.3,
		},
		{
			name:    "evidence basis lets a confident model through",
			fc:      providers.FactCheckResult{Verdict: model.VerdictUnverified},
			ai:      verify.Result{AiVerdict: model.VerdictFalse, AiConfidence: 0.65, EvidenceBasis: model.BasisFactCheck},
			verdict: model.VerdictFalse,
			conf:    0.65,
		},
		{
			name:    "general knowledge never decides",
			fc:      providers.FactCheckResult{Verdict: model.VerdictUnverified},
			ai:      verify.Result{AiVerdict: model.VerdictTrue, AiConfidence: 0.99, EvidenceBasis: model.BasisGeneralKnowledge},
			verdict: model.VerdictUnverified,
			conf:    0.99,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict, conf := selectVerdict(tt.fc, tt.fred, tt.congress, tt.ai)
			if verdict != tt.verdict || conf != tt.conf {
				t.Errorf("selectVerdict = %q/%v, want %q/%v", verdict, conf, tt.verdict, tt.conf)
			}
		})
	}
}
