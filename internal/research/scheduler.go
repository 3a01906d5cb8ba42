// Package research runs the per-claim evidence chain: fact-check search,
// the category provider, then the verifier, under a run-wide concurrency
// limit. Provider failures degrade to typed states; only cancellation
// escapes a worker.
package research

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/model"
	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/providers"
	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/verify"
)

// Concurrency bounds.
const (
	DefaultConcurrency = 3
	MinConcurrency     = 1
	MaxConcurrency     = 10
)

const queueDepth = 64

// FactChecker is the fact-check search surface the scheduler needs.
type FactChecker interface {
	Search(ctx context.Context, claimText string) (providers.FactCheckResult, error)
}

// Indicator is the economic-evidence surface.
type Indicator interface {
	Lookup(ctx context.Context, claimText string) (model.ProviderFinding, error)
}

// Legislative is the bill-status surface.
type Legislative interface {
	Lookup(ctx context.Context, claimText string) (model.ProviderFinding, error)
}

// Providers bundles the evidence chain for one run.
type Providers struct {
	FactCheck FactChecker
	Fred      Indicator
	Congress  Legislative
	Verifier  verify.Verifier
}

// Scheduler is the bounded-concurrency research queue for one run.
type Scheduler struct {
	providers Providers
	emit      func(model.Event)
	queue     chan *model.Claim
	group     *errgroup.Group
	log       zerolog.Logger
}

// New creates a scheduler. emit receives claim.researching and claim.updated
// events; concurrency is clamped into [MinConcurrency, MaxConcurrency].
func New(p Providers, concurrency int, emit func(model.Event)) *Scheduler {
	if concurrency == 0 {
		concurrency = DefaultConcurrency
	}
	if concurrency < MinConcurrency {
		concurrency = MinConcurrency
	}
	if concurrency > MaxConcurrency {
		concurrency = MaxConcurrency
	}
	s := &Scheduler{
		providers: p,
		emit:      emit,
		queue:     make(chan *model.Claim, queueDepth),
		group:     &errgroup.Group{},
		log:       log.With().Str("component", "research").Logger(),
	}
	s.group.SetLimit(concurrency)
	return s
}

// Start launches the dispatcher. It drains until ctx is canceled; queued
// work left at cancellation is dropped silently.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case claim := <-s.queue:
				s.group.Go(func() error {
					s.research(ctx, claim)
					return nil
				})
			}
		}
	}()
}

// Enqueue schedules research for a claim snapshot. Non-blocking: if the
// queue is full the claim is left pending for manual follow-up.
func (s *Scheduler) Enqueue(claim *model.Claim) {
	select {
	case s.queue <- claim:
	default:
		s.log.Warn().Str("claimId", claim.ID).Msg("research queue full, claim left pending")
	}
}

// research runs the sequential provider chain for one claim.
func (s *Scheduler) research(ctx context.Context, claim *model.Claim) {
	if ctx.Err() != nil {
		return
	}
	s.emit(model.Event{Type: model.EventClaimResearching, RunID: claim.RunID, ClaimID: claim.ID})

	outcome, err := s.chain(ctx, claim)
	if err != nil {
		if ctx.Err() != nil || verify.IsCancellation(err) {
			return
		}
		s.log.Warn().Err(err).Str("claimId", claim.ID).Msg("research failed")
		outcome = failureOutcome(claim, err)
	}

	if ctx.Err() != nil {
		return
	}
	s.emit(model.Event{
		Type:    model.EventClaimUpdated,
		RunID:   claim.RunID,
		ClaimID: claim.ID,
		Outcome: outcome,
	})
}

func (s *Scheduler) chain(ctx context.Context, claim *model.Claim) (*model.ResearchOutcome, error) {
	fc, err := s.providers.FactCheck.Search(ctx, claim.Text)
	if err != nil {
		return nil, err
	}

	outcome := &model.ResearchOutcome{
		Status:     fc.Status,
		Google:     fc.Finding(),
		Fred:       model.ProviderFinding{State: model.EvidenceNotApplicable},
		Congress:   model.ProviderFinding{State: model.EvidenceNotApplicable},
		Verdict:    fc.Verdict,
		Confidence: fc.Confidence,
		Summary:    fc.Summary,
		Sources:    fc.Sources,
	}

	switch claim.Category {
	case model.CategoryEconomic:
		fred, err := s.providers.Fred.Lookup(ctx, claim.Text)
		if err != nil {
			return nil, err
		}
		outcome.Fred = fred
		// Economic claims need the indicator to line up; anything short of a
		// match sends the claim to a human.
		if fred.State != model.EvidenceMatched {
			outcome.Status = model.StatusNeedsManual
		}
	case model.CategoryPolitical:
		congress, err := s.providers.Congress.Lookup(ctx, claim.Text)
		if err != nil {
			return nil, err
		}
		outcome.Congress = congress
	}

	ai, err := s.providers.Verifier.Assess(ctx, verify.Request{
		ClaimText:       claim.Text,
		GoogleVerdict:   fc.Verdict,
		GoogleFinding:   outcome.Google,
		FredFinding:     outcome.Fred,
		CongressFinding: outcome.Congress,
	})
	if err != nil {
		return nil, err
	}

	outcome.AiVerdict = ai.AiVerdict
	outcome.AiConfidence = ai.AiConfidence
	outcome.CorrectedClaim = ai.CorrectedClaim
	outcome.AiSummary = ai.AiSummary
	outcome.EvidenceBasis = ai.EvidenceBasis

	verdict, confidence := selectVerdict(fc, outcome.Fred, outcome.Congress, ai)
	outcome.Verdict = verdict
	outcome.Confidence = confidence
	if ai.AiSummary != "" {
		outcome.Summary = ai.AiSummary
	}
	return outcome, nil
}

// Authoritative-verdict thresholds, collected in one place should they ever
// need to be configurable.
var verdictThresholds = struct {
	factCheck      float64
	congressAi     float64
	aiWithEvidence float64
}{0.5, 0.4, 0.5}

// selectVerdict picks the verdict of record from the provider outputs.
// Precedence: a confident classified fact-check, then the model verdict
// backed by matched data, then the model verdict with any non-general
// evidence basis, then unverified.
func selectVerdict(fc providers.FactCheckResult, fred, congress model.ProviderFinding, ai verify.Result) (model.Verdict, float64) {
	if fc.Verdict != model.VerdictUnverified && fc.Confidence >= verdictThresholds.factCheck {
		return fc.Verdict, fc.Confidence
	}
	if fred.State == model.EvidenceMatched {
		return ai.AiVerdict, ai.AiConfidence
	}
	if congress.State == model.EvidenceMatched && ai.AiConfidence >= verdictThresholds.congressAi {
		return ai.AiVerdict, ai.AiConfidence
	}
	if ai.EvidenceBasis != "" && ai.EvidenceBasis != model.BasisGeneralKnowledge &&
		ai.AiConfidence >= verdictThresholds.aiWithEvidence {
		return ai.AiVerdict, ai.AiConfidence
	}
	return model.VerdictUnverified, ai.AiConfidence
}

// failureOutcome is the claim.updated block emitted when the chain errored
// outside cancellation: send the claim to a human, never drop it.
func failureOutcome(claim *model.Claim, err error) *model.ResearchOutcome {
	fredState := model.EvidenceNotApplicable
	if claim.Category == model.CategoryEconomic {
		fredState = model.EvidenceError
	}
	congressState := model.EvidenceNotApplicable
	if claim.Category == model.CategoryPolitical {
		congressState = model.EvidenceError
	}
	summary := fmt.Sprintf("research failed: %v", err)
	return &model.ResearchOutcome{
		Status:   model.StatusNeedsManual,
		Google:   model.ProviderFinding{State: model.EvidenceError, Summary: summary},
		Fred:     model.ProviderFinding{State: fredState},
		Congress: model.ProviderFinding{State: congressState},
		Verdict:  model.VerdictUnverified,
		Summary:  summary,
	}
}
