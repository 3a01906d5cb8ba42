// Package detect scores transcript sentences for checkable factual claims.
package detect

import (
	"regexp"
	"strings"

	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/model"
)

// Detection thresholds. The runtime threshold is clamped into
// [MinThreshold, MaxThreshold].
const (
	DefaultThreshold = 0.62
	MinThreshold     = 0.55
	MaxThreshold     = 0.90

	minSentenceChars = 20
	minLengthTokens  = 8
)

// Reason labels attached to scored candidates.
const (
	ReasonNumber      = "contains_number"
	ReasonComparative = "contains_comparative"
	ReasonKeyword     = "contains_claim_keyword"
	ReasonLength      = "sufficient_length"
)

// sentenceRe matches one complete sentence including its terminator and any
// trailing quote or bracket characters.
var sentenceRe = regexp.MustCompile(`[^.!?]+[.!?]+(?:["')\]]+)?`)

var digitRe = regexp.MustCompile(`\d`)

// Candidate is one sentence that cleared the detection threshold.
type Candidate struct {
	Text           string
	Score          float64
	Reasons        []string
	Category       model.ClaimCategory
	TypeTag        model.ClaimTypeTag
	TypeConfidence float64
	ChunkStartSec  float64
}

// Options tune a single detection pass.
type Options struct {
	ChunkStartSec float64
	Threshold     float64 // 0 means DefaultThreshold
}

// Detector scores sentences against fixed lexicons. Stateless and safe for
// concurrent use.
type Detector struct {
	comparative map[string]bool
	economic    map[string]bool
	political   map[string]bool
	verifiable  map[string]bool
	general     map[string]bool
}

// NewDetector creates a detector with the standard lexicons.
func NewDetector() *Detector {
	return &Detector{
		comparative: toSet([]string{
			"more", "less", "higher", "lower", "up", "down",
			"increase", "increased", "decrease", "decreased", "than", "fewer",
			// change-of-level verbs common in broadcast speech
			"fell", "fall", "rose", "rise", "dropped", "drop",
			"declined", "decline", "grew", "grow", "gained", "gain",
		}),
		economic: toSet([]string{
			"inflation", "unemployment", "gdp", "economy", "economic",
			"jobs", "wages", "wage", "prices", "price", "deficit", "debt",
			"tariff", "tariffs", "tax", "taxes", "interest", "exports",
			"imports", "manufacturing", "earnings",
		}),
		political: toSet([]string{
			"law", "laws", "bill", "bills", "act", "congress", "senate",
			"house", "legislation", "vote", "voted", "administration",
			"border", "immigration", "crime", "military", "veterans",
			"policy", "executive", "federal",
		}),
		verifiable: toSet([]string{
			"signed", "passed", "enacted", "repealed", "vetoed", "funded",
			"appropriated", "ratified",
		}),
		general: toSet([]string{
			// superlatives and quantitative scale
			"largest", "smallest", "biggest", "lowest", "highest", "best",
			"worst", "most", "least", "first", "record", "percent",
			"percentage", "million", "billion", "trillion", "rate", "half",
			"double", "triple", "every", "nearly",
		}),
	}
}

// Detect splits text into sentences and returns the candidates that clear
// the threshold, in input order. Deterministic for a given input.
func (d *Detector) Detect(text string, opts Options) []Candidate {
	threshold := clampThreshold(opts.Threshold)

	complete, tail := SplitSentences(text)
	sentences := complete
	if tail = strings.TrimSpace(tail); tail != "" {
		sentences = append(sentences, tail)
	}

	seen := make(map[string]bool)
	var out []Candidate
	for _, sentence := range sentences {
		sentence = strings.TrimSpace(sentence)
		if len(sentence) < minSentenceChars {
			continue
		}
		lower := strings.ToLower(sentence)
		if seen[lower] {
			continue
		}
		seen[lower] = true

		cand, ok := d.score(sentence, lower, threshold)
		if !ok {
			continue
		}
		cand.ChunkStartSec = opts.ChunkStartSec
		out = append(out, cand)
	}
	return out
}

func (d *Detector) score(sentence, lower string, threshold float64) (Candidate, bool) {
	tokens := tokenize(lower)

	var score float64
	var reasons []string

	hasDigit := digitRe.MatchString(sentence)
	if hasDigit {
		score += 0.45
		reasons = append(reasons, ReasonNumber)
	}

	hasComparative := false
	for _, tok := range tokens {
		if d.comparative[tok] {
			hasComparative = true
			break
		}
	}
	if hasComparative {
		score += 0.20
		reasons = append(reasons, ReasonComparative)
	}

	var keywordHits int
	var econHit, politicalHit, verifiableHit bool
	for _, tok := range tokens {
		switch {
		case d.economic[tok]:
			keywordHits++
			econHit = true
		case d.political[tok]:
			keywordHits++
			politicalHit = true
		case d.general[tok]:
			keywordHits++
		}
		if d.verifiable[tok] {
			verifiableHit = true
		}
	}
	if keywordHits > 0 {
		bonus := 0.10 * float64(keywordHits)
		if bonus > 0.35 {
			bonus = 0.35
		}
		score += bonus
		reasons = append(reasons, ReasonKeyword)
	}

	if len(tokens) >= minLengthTokens {
		score += 0.10
		reasons = append(reasons, ReasonLength)
	}

	if score > 1 {
		score = 1
	}
	if score < threshold {
		return Candidate{}, false
	}

	category := model.CategoryGeneral
	if econHit {
		category = model.CategoryEconomic
	} else if politicalHit {
		category = model.CategoryPolitical
	}

	tag, tagConf := classifyTag(hasDigit, hasComparative, category, verifiableHit)

	return Candidate{
		Text:           sentence,
		Score:          score,
		Reasons:        reasons,
		Category:       category,
		TypeTag:        tag,
		TypeConfidence: tagConf,
	}, true
}

func classifyTag(hasDigit, hasComparative bool, category model.ClaimCategory, verifiable bool) (model.ClaimTypeTag, float64) {
	switch {
	case hasDigit:
		return model.TagNumericFactual, 0.90
	case category == model.CategoryPolitical && verifiable:
		return model.TagNumericFactual, 0.70
	case hasComparative:
		return model.TagSimplePolicy, 0.65
	default:
		return model.TagOther, 0.50
	}
}

// SplitSentences returns the complete sentences of text plus any unterminated
// tail. The tail is returned verbatim so callers can carry it into the next
// pass.
func SplitSentences(text string) (complete []string, tail string) {
	idx := sentenceRe.FindAllStringIndex(text, -1)
	last := 0
	for _, span := range idx {
		s := strings.TrimSpace(text[span[0]:span[1]])
		if s != "" {
			complete = append(complete, s)
		}
		last = span[1]
	}
	return complete, text[last:]
}

func clampThreshold(v float64) float64 {
	if v == 0 {
		return DefaultThreshold
	}
	if v < MinThreshold {
		return MinThreshold
	}
	if v > MaxThreshold {
		return MaxThreshold
	}
	return v
}

func tokenize(lower string) []string {
	return strings.FieldsFunc(lower, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}

func toSet(words []string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}
