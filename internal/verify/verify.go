// Package verify submits a claim plus structured evidence to an external
// reasoning service and parses a constrained-schema verdict. Every failure
// short of cancellation degrades to the safe fallback.
package verify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/model"
)

const (
	// DefaultModel is used when no reasoning model is configured.
	DefaultModel = "gpt-4o-mini"

	maxFieldChars = 484 // correctedClaim and aiSummary clamp

	// Without a classified evidence source the model is reasoning from
	// general knowledge; its confidence is capped here.
	noEvidenceConfidenceCap = 0.65
)

// Request carries the claim and the provider findings assembled by the
// research worker.
type Request struct {
	ClaimText       string
	GoogleVerdict   model.Verdict
	GoogleFinding   model.ProviderFinding
	FredFinding     model.ProviderFinding
	CongressFinding model.ProviderFinding
}

// Result is the parsed and post-processed verifier output. The zero value is
// not safe; use Fallback.
type Result struct {
	AiVerdict      model.Verdict
	AiConfidence   float64
	CorrectedClaim string
	AiSummary      string
	EvidenceBasis  model.EvidenceBasis
}

// Fallback is the result used whenever the service cannot produce a usable
// verdict: unverified with zero confidence and no narrative.
func Fallback() Result {
	return Result{AiVerdict: model.VerdictUnverified}
}

// Verifier is implemented by the real client and by test doubles in the
// research package.
type Verifier interface {
	Assess(ctx context.Context, req Request) (Result, error)
}

// Client calls an OpenAI-compatible chat completion endpoint with a strict
// JSON output schema.
type Client struct {
	api     *openai.Client
	model   string
	timeout time.Duration
	log     zerolog.Logger
}

// Config tunes the client. APIKey empty means every Assess call returns the
// fallback without a network round trip.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// New creates a verifier client. Returns a client even without an API key so
// callers need no nil checks.
func New(cfg Config) *Client {
	c := &Client{
		model:   cfg.Model,
		timeout: cfg.Timeout,
		log:     log.With().Str("component", "verify").Logger(),
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.timeout <= 0 {
		c.timeout = 30 * time.Second
	}
	if cfg.APIKey != "" {
		clientConfig := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientConfig.BaseURL = cfg.BaseURL
		}
		c.api = openai.NewClientWithConfig(clientConfig)
	}
	return c
}

// wire is the schema the model must emit.
type wire struct {
	AiVerdict      string   `json:"aiVerdict"`
	AiConfidence   *float64 `json:"aiConfidence"`
	CorrectedClaim *string  `json:"correctedClaim"`
	AiSummary      *string  `json:"aiSummary"`
	EvidenceBasis  *string  `json:"evidenceBasis"`
}

// Assess submits the claim and evidence. Cancellation errors are returned;
// every other failure produces the fallback and a nil error.
func (c *Client) Assess(ctx context.Context, req Request) (Result, error) {
	if c.api == nil || strings.TrimSpace(req.ClaimText) == "" {
		return Fallback(), nil
	}

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(cctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(req)},
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		c.log.Warn().Err(err).Msg("verifier call failed, using fallback")
		return Fallback(), nil
	}
	if len(resp.Choices) == 0 {
		return Fallback(), nil
	}

	var out wire
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &out); err != nil {
		c.log.Warn().Err(err).Msg("verifier output did not parse, using fallback")
		return Fallback(), nil
	}
	if out.AiVerdict == "" {
		return Fallback(), nil
	}

	return postProcess(out, req), nil
}

// postProcess clamps every field and applies the general-knowledge
// confidence cap.
func postProcess(out wire, req Request) Result {
	r := Result{AiVerdict: normalizeVerdict(out.AiVerdict)}
	if out.AiConfidence != nil {
		r.AiConfidence = clamp01(*out.AiConfidence)
	}
	if out.CorrectedClaim != nil {
		r.CorrectedClaim = clampChars(strings.TrimSpace(*out.CorrectedClaim), maxFieldChars)
	}
	if out.AiSummary != nil {
		r.AiSummary = clampChars(strings.TrimSpace(*out.AiSummary), maxFieldChars)
	}
	if out.EvidenceBasis != nil {
		r.EvidenceBasis = normalizeBasis(*out.EvidenceBasis)
	}

	if !hasClassifiedEvidence(req) && r.AiConfidence > noEvidenceConfidenceCap {
		r.AiConfidence = noEvidenceConfidenceCap
	}
	return r
}

// hasClassifiedEvidence reports whether any provider produced something the
// model could actually lean on.
func hasClassifiedEvidence(req Request) bool {
	return req.GoogleVerdict != "" && req.GoogleVerdict != model.VerdictUnverified ||
		req.FredFinding.State == model.EvidenceMatched ||
		req.CongressFinding.State == model.EvidenceMatched
}

func normalizeVerdict(raw string) model.Verdict {
	switch model.Verdict(strings.ToLower(strings.TrimSpace(raw))) {
	case model.VerdictTrue:
		return model.VerdictTrue
	case model.VerdictFalse:
		return model.VerdictFalse
	case model.VerdictMisleading:
		return model.VerdictMisleading
	default:
		return model.VerdictUnverified
	}
}

func normalizeBasis(raw string) model.EvidenceBasis {
	switch model.EvidenceBasis(strings.ToLower(strings.TrimSpace(raw))) {
	case model.BasisFactCheck:
		return model.BasisFactCheck
	case model.BasisFredData:
		return model.BasisFredData
	case model.BasisCongressData:
		return model.BasisCongressData
	case model.BasisMixed:
		return model.BasisMixed
	default:
		return model.BasisGeneralKnowledge
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampChars(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

const systemPrompt = `You are a broadcast fact-check analyst. Assess the claim strictly against the evidence provided. Respond with a single JSON object:
{"aiVerdict": "true"|"false"|"misleading"|"unverified", "aiConfidence": 0.0-1.0, "correctedClaim": string or null, "aiSummary": string or null, "evidenceBasis": "fact_check_match"|"fred_data"|"congress_data"|"general_knowledge"|"mixed"}
aiSummary and correctedClaim must each stay under 480 characters. When the evidence does not settle the claim, answer "unverified" with low confidence.`

// buildPrompt renders the claim and whatever evidence exists into the user
// message. Absent providers are labelled so the model does not invent them.
func buildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Claim: %s\n\n", strings.TrimSpace(req.ClaimText))

	b.WriteString("Fact-check search: ")
	if req.GoogleFinding.Summary != "" {
		fmt.Fprintf(&b, "[%s] %s\n", req.GoogleFinding.State, req.GoogleFinding.Summary)
	} else {
		fmt.Fprintf(&b, "[%s] no findings\n", stateOrNone(req.GoogleFinding.State))
	}
	for _, s := range req.GoogleFinding.Sources {
		fmt.Fprintf(&b, "  - %s rated %q: %s\n", s.Publisher, s.TextualRating, s.Title)
	}

	b.WriteString("Economic indicators: ")
	writeFinding(&b, req.FredFinding)
	b.WriteString("Legislative records: ")
	writeFinding(&b, req.CongressFinding)
	return b.String()
}

func writeFinding(b *strings.Builder, f model.ProviderFinding) {
	if f.Summary != "" {
		fmt.Fprintf(b, "[%s] %s\n", f.State, f.Summary)
		return
	}
	fmt.Fprintf(b, "[%s]\n", stateOrNone(f.State))
}

func stateOrNone(s model.EvidenceState) model.EvidenceState {
	if s == "" {
		return model.EvidenceNone
	}
	return s
}

// IsCancellation reports whether err is a context cancellation that must be
// propagated silently.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
