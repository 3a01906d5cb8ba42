package providers

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/model"
)

// DefaultFactCheckBaseURL is the claim search endpoint of the Google Fact
// Check Tools API.
const DefaultFactCheckBaseURL = "https://factchecktools.googleapis.com/v1alpha1/claims:search"

const (
	maxReviewAgeYears = 4.0
	maxRankedSources  = 3
	variantTokenLimit = 18
	longTokenChars    = 7 // focus-variant tokens: digits or at least this long
)

// factCheckNow is swapped in recency tests.
var factCheckNow = time.Now

// FactCheckClient queries an external fact-check search service and
// normalizes its claim reviews into ranked verdict candidates.
type FactCheckClient struct {
	core    *Core
	apiKey  string
	baseURL string
}

// NewFactCheckClient creates a client. baseURL is overridable for tests;
// empty means the public endpoint.
func NewFactCheckClient(core *Core, apiKey, baseURL string) *FactCheckClient {
	if baseURL == "" {
		baseURL = DefaultFactCheckBaseURL
	}
	return &FactCheckClient{core: core, apiKey: apiKey, baseURL: baseURL}
}

// FactCheckResult is the flattened outcome the research worker merges into
// the claim.
type FactCheckResult struct {
	Status     model.ResearchStatus
	State      model.EvidenceState
	Verdict    model.Verdict
	Confidence float64
	Summary    string
	Sources    []model.Source
}

// Finding reshapes the result into the common provider shape.
func (r FactCheckResult) Finding() model.ProviderFinding {
	return model.ProviderFinding{State: r.State, Summary: r.Summary, Sources: r.Sources}
}

type fcCandidate struct {
	verdict       model.Verdict
	confidence    float64
	claimReviewed string
	source        model.Source
}

// Wire shapes of the claims:search response.
type fcResponse struct {
	Claims []fcClaim `json:"claims"`
}

type fcClaim struct {
	Text        string     `json:"text"`
	Claimant    string     `json:"claimant"`
	ClaimReview []fcReview `json:"claimReview"`
}

type fcReview struct {
	Publisher struct {
		Name string `json:"name"`
		Site string `json:"site"`
	} `json:"publisher"`
	URL           string `json:"url"`
	Title         string `json:"title"`
	ReviewDate    string `json:"reviewDate"`
	TextualRating string `json:"textualRating"`
}

// Search runs the query ladder for claimText. Only context errors are
// returned as err; every provider failure is encoded in the result.
func (c *FactCheckClient) Search(ctx context.Context, claimText string) (FactCheckResult, error) {
	claimText = strings.TrimSpace(claimText)
	if claimText == "" {
		return FactCheckResult{
			Status:  model.StatusNoMatch,
			State:   model.EvidenceNone,
			Verdict: model.VerdictUnverified,
			Summary: "empty claim text",
		}, nil
	}
	if c.apiKey == "" {
		return FactCheckResult{
			Status:  model.StatusNeedsManual,
			State:   model.EvidenceError,
			Verdict: model.VerdictUnverified,
			Summary: "fact-check API key not configured",
		}, nil
	}

	var candidates []fcCandidate
	for _, variant := range queryVariants(claimText) {
		for _, lang := range []string{"en-US", "en", ""} {
			var page fcResponse
			if err := c.core.GetJSON(ctx, c.searchURL(variant, lang), &page); err != nil {
				if ctx.Err() != nil {
					return FactCheckResult{}, ctx.Err()
				}
				return FactCheckResult{
					Status:  model.StatusNeedsManual,
					State:   model.EvidenceError,
					Verdict: model.VerdictUnverified,
					Summary: "fact-check query failed: " + err.Error(),
				}, nil
			}
			candidates = collectCandidates(claimText, page)
			if len(candidates) > 0 {
				break
			}
		}
		if len(candidates) > 0 {
			break
		}
	}

	if len(candidates) == 0 {
		return FactCheckResult{
			Status:  model.StatusNoMatch,
			State:   model.EvidenceNone,
			Verdict: model.VerdictUnverified,
			Summary: "no matching fact checks found",
		}, nil
	}

	ranked := rankCandidates(dedupeCandidates(candidates))
	top := ranked[0]

	sources := make([]model.Source, 0, maxRankedSources)
	for i, cand := range ranked {
		if i == maxRankedSources {
			break
		}
		sources = append(sources, cand.source)
	}

	summary := fmt.Sprintf("%s rated this %q", top.source.Publisher, top.source.TextualRating)
	if top.source.Title != "" {
		summary += ": " + top.source.Title
	}

	return FactCheckResult{
		Status:     model.StatusResearched,
		State:      model.EvidenceMatched,
		Verdict:    top.verdict,
		Confidence: math.Round(top.confidence*100) / 100,
		Summary:    summary,
		Sources:    sources,
	}, nil
}

func (c *FactCheckClient) searchURL(query, lang string) string {
	params := url.Values{}
	params.Set("query", query)
	params.Set("key", c.apiKey)
	if lang != "" {
		params.Set("languageCode", lang)
	}
	return c.baseURL + "?" + params.Encode()
}

// queryVariants builds up to three searches: the full text, the leading
// tokens, and a digits-plus-long-words focus.
func queryVariants(claimText string) []string {
	full := strings.Join(strings.Fields(claimText), " ")
	tokens := strings.Fields(full)

	head := full
	if len(tokens) > variantTokenLimit {
		head = strings.Join(tokens[:variantTokenLimit], " ")
	}

	var focus []string
	for _, tok := range tokens {
		if strings.ContainsAny(tok, "0123456789") || len(tok) >= longTokenChars {
			focus = append(focus, tok)
		}
	}

	variants := []string{full, head, strings.Join(focus, " ")}
	seen := make(map[string]bool, len(variants))
	var out []string
	for _, v := range variants {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// collectCandidates scores every recent-enough claim review on the page.
func collectCandidates(claimText string, page fcResponse) []fcCandidate {
	claimTokens := ratingTokens(claimText)

	var out []fcCandidate
	for _, entry := range page.Claims {
		for _, review := range entry.ClaimReview {
			ageYears, ok := reviewAgeYears(review.ReviewDate)
			if ok && ageYears > maxReviewAgeYears {
				continue
			}

			verdict := NormalizeRating(review.TextualRating)

			reviewTokens := ratingTokens(entry.Text + " " + review.Title + " " + review.TextualRating)
			matchScore := jaccard(claimTokens, reviewTokens)

			verdictWeight := 0.35
			if verdict != model.VerdictUnverified {
				verdictWeight = 0.80
			}

			confidence := (0.25 + 0.45*matchScore + 0.30*verdictWeight) * recencyMultiplier(ageYears, ok)
			if confidence > 0.98 {
				confidence = 0.98
			}

			publisher := review.Publisher.Name
			if publisher == "" {
				publisher = review.Publisher.Site
			}

			out = append(out, fcCandidate{
				verdict:       verdict,
				confidence:    confidence,
				claimReviewed: entry.Text,
				source: model.Source{
					Publisher:     publisher,
					Title:         review.Title,
					URL:           review.URL,
					TextualRating: review.TextualRating,
					ReviewDate:    review.ReviewDate,
				},
			})
		}
	}
	return out
}

// reviewAgeYears parses a review date and returns its age. ok is false when
// the date is missing or unparseable; such reviews are kept but get no
// recency boost either way.
func reviewAgeYears(raw string) (float64, bool) {
	if raw == "" {
		return 0, false
	}
	var t time.Time
	var err error
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		t, err = time.Parse(layout, raw)
		if err == nil {
			break
		}
	}
	if err != nil {
		return 0, false
	}
	age := factCheckNow().Sub(t).Hours() / (24 * 365.25)
	if age < 0 {
		age = 0
	}
	return age, true
}

// recencyMultiplier discounts reviews between two and four years old.
func recencyMultiplier(ageYears float64, ok bool) float64 {
	if !ok || ageYears <= 2 {
		return 1.0
	}
	m := 1.0 - (ageYears-2)*0.15
	if m < 0.5 {
		m = 0.5
	}
	return m
}

func dedupeCandidates(in []fcCandidate) []fcCandidate {
	best := make(map[string]fcCandidate, len(in))
	var order []string
	for _, cand := range in {
		key := strings.Join([]string{
			cand.source.URL, cand.source.Publisher, cand.claimReviewed, cand.source.TextualRating,
		}, "|")
		prev, exists := best[key]
		if !exists {
			order = append(order, key)
			best[key] = cand
			continue
		}
		if cand.confidence > prev.confidence {
			best[key] = cand
		}
	}
	out := make([]fcCandidate, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	return out
}

// rankCandidates orders by confidence, classified verdicts ahead of
// unverified ones.
func rankCandidates(in []fcCandidate) []fcCandidate {
	out := append([]fcCandidate(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		iClassified := out[i].verdict != model.VerdictUnverified
		jClassified := out[j].verdict != model.VerdictUnverified
		if iClassified != jClassified {
			return iClassified
		}
		return out[i].confidence > out[j].confidence
	})
	return out
}

// Rating vocabulary, checked in order: qualified ratings first so "mostly
// false" never lands in the false bucket.
var (
	misleadingRatings = []string{
		"misleading", "mostly false", "partly false", "partly true",
		"half true", "mixed", "missing context", "out of context",
	}
	trueRatings  = []string{"mostly true", "true", "correct", "accurate", "authentic"}
	falseRatings = []string{
		"pants-on-fire", "pants on fire", "debunked", "no evidence",
		"fake", "hoax", "fabricated", "false",
	}
)

// NormalizeRating maps a provider's textual rating onto a verdict by
// case-insensitive substring match.
func NormalizeRating(rating string) model.Verdict {
	lower := strings.ToLower(rating)
	for _, m := range misleadingRatings {
		if strings.Contains(lower, m) {
			return model.VerdictMisleading
		}
	}
	for _, m := range falseRatings {
		if strings.Contains(lower, m) {
			return model.VerdictFalse
		}
	}
	for _, m := range trueRatings {
		if strings.Contains(lower, m) {
			return model.VerdictTrue
		}
	}
	return model.VerdictUnverified
}

// ratingTokens lowercases, strips non-alphanumerics, and keeps tokens longer
// than two characters.
func ratingTokens(text string) map[string]bool {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	tokens := make(map[string]bool)
	for _, tok := range strings.Fields(b.String()) {
		if len(tok) > 2 {
			tokens[tok] = true
		}
	}
	return tokens
}

// jaccard computes set similarity; empty union scores zero.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for tok := range a {
		if b[tok] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
