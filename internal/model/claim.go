package model

import "time"

// Claim is the central entity: a candidate sentence promoted to a research
// work item, mutated under optimistic versioning until the run ends.
type Claim struct {
	ID      string `json:"id"`      // runId + zero-padded monotonic index
	RunID   string `json:"runId"`   // owning run
	Version int    `json:"version"` // starts at 1, +1 on every mutation

	Text          string    `json:"text"`              // claim sentence
	Reasons       []string  `json:"reasons,omitempty"` // detection reasons that fired
	Score         float64   `json:"score"`             // detector score in [0,1]
	ChunkStartSec float64   `json:"chunkStartSec"`     // seconds from run start
	ChunkClock    string    `json:"chunkClock,omitempty"`
	DetectedAt    time.Time `json:"detectedAt"`

	Category       ClaimCategory `json:"claimCategory"`
	TypeTag        ClaimTypeTag  `json:"claimTypeTag"`
	TypeConfidence float64       `json:"claimTypeConfidence"`

	Status ResearchStatus `json:"status"`

	GoogleEvidenceState     EvidenceState `json:"googleEvidenceState"`
	GoogleEvidenceSummary   string        `json:"googleEvidenceSummary,omitempty"`
	GoogleEvidenceSources   []Source      `json:"googleEvidenceSources,omitempty"`
	FredEvidenceState       EvidenceState `json:"fredEvidenceState"`
	FredEvidenceSummary     string        `json:"fredEvidenceSummary,omitempty"`
	FredEvidenceSources     []Source      `json:"fredEvidenceSources,omitempty"`
	CongressEvidenceState   EvidenceState `json:"congressEvidenceState"`
	CongressEvidenceSummary string        `json:"congressEvidenceSummary,omitempty"`
	CongressEvidenceSources []Source      `json:"congressEvidenceSources,omitempty"`

	Verdict    Verdict  `json:"verdict"`
	Confidence float64  `json:"confidence"`
	Summary    string   `json:"summary,omitempty"`
	Sources    []Source `json:"sources,omitempty"` // ranked, best first

	AiVerdict      Verdict       `json:"aiVerdict,omitempty"`
	AiConfidence   float64       `json:"aiConfidence"`
	CorrectedClaim string        `json:"correctedClaim,omitempty"`
	AiSummary      string        `json:"aiSummary,omitempty"`
	EvidenceBasis  EvidenceBasis `json:"evidenceBasis,omitempty"`

	OutputApprovalState ApprovalState `json:"outputApprovalState"`
	ApprovedVersion     *int          `json:"approvedVersion"` // nil until approved
	ApprovedAt          *time.Time    `json:"approvedAt,omitempty"`
	RejectedAt          *time.Time    `json:"rejectedAt,omitempty"`
	TagOverrideReason   string        `json:"tagOverrideReason,omitempty"`

	OutputPackageStatus PackageStatus `json:"outputPackageStatus"`
	OutputPackageID     string        `json:"outputPackageId,omitempty"`
	OutputPackageError  string        `json:"outputPackageError,omitempty"`
	RenderStatus        RenderStatus  `json:"renderStatus"`
	RenderJobID         string        `json:"renderJobId,omitempty"`
	RenderError         string        `json:"renderError,omitempty"`
	ArtifactURL         string        `json:"artifactUrl,omitempty"`

	// Derived policy fields, recomputed on every mutation and never the
	// source of truth (see policy.Evaluate).
	PolicyThreshold        float64        `json:"policyThreshold"`
	IndependentSourceCount int            `json:"independentSourceCount"`
	EvidenceConflict       bool           `json:"evidenceConflict"`
	EvidenceStatus         EvidenceStatus `json:"evidenceStatus"`
	ApprovalEligibility    bool           `json:"approvalEligibility"`
	ApprovalBlockReason    BlockReason    `json:"approvalBlockReason,omitempty"`
	ExportEligibility      bool           `json:"exportEligibility"`
	ExportBlockReason      BlockReason    `json:"exportBlockReason,omitempty"`
}

// Source is one evidence reference attached to a claim or provider finding.
type Source struct {
	Publisher     string `json:"publisher,omitempty"`
	Title         string `json:"title,omitempty"`
	URL           string `json:"url,omitempty"`
	TextualRating string `json:"textualRating,omitempty"` // provider wording, not normalized
	ReviewDate    string `json:"reviewDate,omitempty"`    // as reported by the provider
}

// ProviderFinding is the common result shape of every evidence provider.
type ProviderFinding struct {
	State   EvidenceState `json:"state"`
	Summary string        `json:"summary,omitempty"`
	Sources []Source      `json:"sources,omitempty"`
}

// ResearchOutcome is the full research block a worker merges onto a claim.
type ResearchOutcome struct {
	Status         ResearchStatus  `json:"status"`
	Google         ProviderFinding `json:"google"`
	Fred           ProviderFinding `json:"fred"`
	Congress       ProviderFinding `json:"congress"`
	Verdict        Verdict         `json:"verdict"`
	Confidence     float64         `json:"confidence"`
	Summary        string          `json:"summary,omitempty"`
	Sources        []Source        `json:"sources,omitempty"`
	AiVerdict      Verdict         `json:"aiVerdict,omitempty"`
	AiConfidence   float64         `json:"aiConfidence"`
	CorrectedClaim string          `json:"correctedClaim,omitempty"`
	AiSummary      string          `json:"aiSummary,omitempty"`
	EvidenceBasis  EvidenceBasis   `json:"evidenceBasis,omitempty"`
}

// ClaimCategory buckets a claim for provider routing
type ClaimCategory string

const (
	CategoryEconomic  ClaimCategory = "economic"  // routed through the indicator client
	CategoryPolitical ClaimCategory = "political" // routed through the legislative client
	CategoryGeneral   ClaimCategory = "general"   // fact-check + verifier only
)

// ClaimTypeTag drives the policy threshold tier
type ClaimTypeTag string

const (
	TagNumericFactual ClaimTypeTag = "numeric_factual"
	TagSimplePolicy   ClaimTypeTag = "simple_policy"
	TagOther          ClaimTypeTag = "other"
)

// ValidTypeTag reports whether t is one of the accepted tag values.
func ValidTypeTag(t ClaimTypeTag) bool {
	switch t {
	case TagNumericFactual, TagSimplePolicy, TagOther:
		return true
	}
	return false
}

// ResearchStatus tracks a claim through the research pipeline
type ResearchStatus string

const (
	StatusPendingResearch ResearchStatus = "pending_research"
	StatusResearching     ResearchStatus = "researching"
	StatusResearched      ResearchStatus = "researched"
	StatusNeedsManual     ResearchStatus = "needs_manual_research"
	StatusNoMatch         ResearchStatus = "no_match"
)

// Verdict is the normalized outcome assigned to a claim
type Verdict string

const (
	VerdictTrue       Verdict = "true"
	VerdictFalse      Verdict = "false"
	VerdictMisleading Verdict = "misleading"
	VerdictUnverified Verdict = "unverified"
)

// EvidenceState classifies what a provider produced for a claim
type EvidenceState string

const (
	EvidenceNone          EvidenceState = "none"           // provider not yet consulted
	EvidenceNotApplicable EvidenceState = "not_applicable" // claim outside the provider's domain
	EvidenceAmbiguous     EvidenceState = "ambiguous"      // relevant but no usable observation
	EvidenceMatched       EvidenceState = "matched"
	EvidenceError         EvidenceState = "error"
)

// EvidenceBasis names which evidence class the verifier leaned on
type EvidenceBasis string

const (
	BasisFactCheck        EvidenceBasis = "fact_check_match"
	BasisFredData         EvidenceBasis = "fred_data"
	BasisCongressData     EvidenceBasis = "congress_data"
	BasisGeneralKnowledge EvidenceBasis = "general_knowledge"
	BasisMixed            EvidenceBasis = "mixed"
)

// ApprovalState is the human sign-off gate on a claim's output
type ApprovalState string

const (
	ApprovalPending  ApprovalState = "pending"
	ApprovalApproved ApprovalState = "approved"
	ApprovalRejected ApprovalState = "rejected"
)

// EvidenceStatus is the policy engine's read of the evidence situation
type EvidenceStatus string

const (
	EvidenceStatusResearching      EvidenceStatus = "researching"
	EvidenceStatusProviderDegraded EvidenceStatus = "provider_degraded"
	EvidenceStatusInsufficient     EvidenceStatus = "insufficient"
	EvidenceStatusConflicted       EvidenceStatus = "conflicted"
	EvidenceStatusSufficient       EvidenceStatus = "sufficient"
)

// BlockReason explains why approval or export is currently denied
type BlockReason string

const (
	BlockRejectedLocked      BlockReason = "rejected_locked"
	BlockStillResearching    BlockReason = "still_researching"
	BlockNotResearched       BlockReason = "not_researched"
	BlockProviderDegraded    BlockReason = "provider_degraded"
	BlockInsufficientSources BlockReason = "insufficient_sources"
	BlockConflictedSources   BlockReason = "conflicted_sources"
	BlockBelowThreshold      BlockReason = "below_threshold"
	BlockNotApproved         BlockReason = "not_approved"
)

// Clone returns a deep copy safe to embed in an outgoing event.
func (c *Claim) Clone() *Claim {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Reasons = append([]string(nil), c.Reasons...)
	cp.GoogleEvidenceSources = cloneSources(c.GoogleEvidenceSources)
	cp.FredEvidenceSources = cloneSources(c.FredEvidenceSources)
	cp.CongressEvidenceSources = cloneSources(c.CongressEvidenceSources)
	cp.Sources = cloneSources(c.Sources)
	if c.ApprovedVersion != nil {
		v := *c.ApprovedVersion
		cp.ApprovedVersion = &v
	}
	if c.ApprovedAt != nil {
		t := *c.ApprovedAt
		cp.ApprovedAt = &t
	}
	if c.RejectedAt != nil {
		t := *c.RejectedAt
		cp.RejectedAt = &t
	}
	return &cp
}

func cloneSources(in []Source) []Source {
	if in == nil {
		return nil
	}
	return append([]Source(nil), in...)
}
