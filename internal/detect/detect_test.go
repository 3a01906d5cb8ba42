package detect

import (
	"reflect"
	"testing"

	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/model"
)

func hasReason(reasons []string, want string) bool {
	for _, r := range reasons {
		if r == want {
			return true
		}
	}
	return false
}

func TestDetectEconomicNumericClaim(t *testing.T) {
	d := NewDetector()
	text := "Inflation fell to 3.1 percent in 2024 from 6.5 percent in 2022."

	got := d.Detect(text, Options{ChunkStartSec: 15, Threshold: 0.62})

	if len(got) != 1 {
		t.Fatalf("expected exactly one candidate, got %d", len(got))
	}
	c := got[0]
	if c.Category != model.CategoryEconomic {
		t.Errorf("category = %q, want economic", c.Category)
	}
	if c.TypeTag != model.TagNumericFactual {
		t.Errorf("typeTag = %q, want numeric_factual", c.TypeTag)
	}
	if c.Score < 0.62 {
		t.Errorf("score = %v, want >= 0.62", c.Score)
	}
	if c.ChunkStartSec != 15 {
		t.Errorf("chunkStartSec = %v, want 15", c.ChunkStartSec)
	}
	for _, want := range []string{ReasonNumber, ReasonComparative, ReasonKeyword} {
		if !hasReason(c.Reasons, want) {
			t.Errorf("reasons %v missing %q", c.Reasons, want)
		}
	}
}

func TestDetectSimplePolicyClaim(t *testing.T) {
	d := NewDetector()
	text := "Wages are higher than ever and unemployment is near a record lowest level."

	got := d.Detect(text, Options{})
	if len(got) != 1 {
		t.Fatalf("expected one candidate, got %d", len(got))
	}
	if got[0].TypeTag != model.TagSimplePolicy {
		t.Errorf("typeTag = %q, want simple_policy", got[0].TypeTag)
	}
	if got[0].Category != model.CategoryEconomic {
		t.Errorf("category = %q, want economic", got[0].Category)
	}
}

func TestDetectPoliticalVerifiableClaim(t *testing.T) {
	d := NewDetector()
	text := "More bills passed the senate and house this year than the congress enacted before."

	got := d.Detect(text, Options{})
	if len(got) != 1 {
		t.Fatalf("expected one candidate, got %d", len(got))
	}
	if got[0].Category != model.CategoryPolitical {
		t.Errorf("category = %q, want political", got[0].Category)
	}
	if got[0].TypeTag != model.TagNumericFactual {
		t.Errorf("typeTag = %q, want numeric_factual (political verifiable)", got[0].TypeTag)
	}
}

func TestDetectDropsWeakSentences(t *testing.T) {
	d := NewDetector()
	cases := []struct {
		name string
		text string
	}{
		{"short", "It grew fast."},
		{"no signals", "Thank you all for being here with us tonight my friends."},
		{"below threshold", "Congress passed the infrastructure bill despite fierce opposition from leadership."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := d.Detect(tc.text, Options{}); len(got) != 0 {
				t.Errorf("expected no candidates, got %d: %+v", len(got), got)
			}
		})
	}
}

func TestDetectThresholdClampsUp(t *testing.T) {
	d := NewDetector()
	// Scores 0.30: two keywords plus length. A raw 0.30 threshold would keep
	// it; the clamp to MinThreshold must drop it.
	text := "Congress passed the infrastructure bill despite fierce opposition from leadership."
	if got := d.Detect(text, Options{Threshold: 0.30}); len(got) != 0 {
		t.Errorf("expected clamp to %v to drop candidate, got %d", MinThreshold, len(got))
	}
}

func TestDetectUniqueSentencesPerCall(t *testing.T) {
	d := NewDetector()
	sentence := "Inflation fell to 3.1 percent in 2024 from 6.5 percent in 2022."
	got := d.Detect(sentence+" "+sentence, Options{})
	if len(got) != 1 {
		t.Fatalf("duplicate sentence should be scored once, got %d", len(got))
	}
}

func TestDetectDeterministic(t *testing.T) {
	d := NewDetector()
	text := "Inflation fell to 3.1 percent in 2024 from 6.5 percent in 2022. " +
		"Wages are higher than ever and unemployment is near a record lowest level."
	a := d.Detect(text, Options{ChunkStartSec: 30})
	b := d.Detect(text, Options{ChunkStartSec: 30})
	if !reflect.DeepEqual(a, b) {
		t.Errorf("detector output differs across identical calls:\n%+v\n%+v", a, b)
	}
}

func TestSplitSentences(t *testing.T) {
	cases := []struct {
		name     string
		text     string
		complete []string
		tail     string
	}{
		{
			name:     "two sentences and tail",
			text:     "First one here. Second one there! And then",
			complete: []string{"First one here.", "Second one there!"},
			tail:     " And then",
		},
		{
			name:     "terminator inside quotes",
			text:     `He said "it is done." Then he left`,
			complete: []string{`He said "it is done."`},
			tail:     " Then he left",
		},
		{
			name:     "no terminator",
			text:     "still going on and on",
			complete: nil,
			tail:     "still going on and on",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			complete, tail := SplitSentences(tc.text)
			if !reflect.DeepEqual(complete, tc.complete) {
				t.Errorf("complete = %q, want %q", complete, tc.complete)
			}
			if tail != tc.tail {
				t.Errorf("tail = %q, want %q", tail, tc.tail)
			}
		})
	}
}
