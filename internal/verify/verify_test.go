package verify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/model"
)

func TestFallback(t *testing.T) {
	r := Fallback()
	if r.AiVerdict != model.VerdictUnverified {
		t.Errorf("verdict = %q, want unverified", r.AiVerdict)
	}
	if r.AiConfidence != 0 {
		t.Errorf("confidence = %v, want 0", r.AiConfidence)
	}
}

func TestAssessWithoutAPIKey(t *testing.T) {
	c := New(Config{})
	res, err := c.Assess(context.Background(), Request{ClaimText: "the deficit doubled"})
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if res.AiVerdict != model.VerdictUnverified {
		t.Errorf("verdict = %q, want unverified fallback", res.AiVerdict)
	}
}

func TestAssessEmptyClaim(t *testing.T) {
	c := New(Config{APIKey: "test"})
	res, err := c.Assess(context.Background(), Request{ClaimText: "   "})
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if res.AiVerdict != model.VerdictUnverified {
		t.Errorf("verdict = %q, want unverified fallback", res.AiVerdict)
	}
}

// chatServer serves a canned chat-completion whose message content is the
// given JSON payload.
func chatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestAssessParsesVerdict(t *testing.T) {
	srv := chatServer(t, `{"aiVerdict":"false","aiConfidence":0.9,"correctedClaim":"The deficit rose 40%.","aiSummary":"Treasury data contradicts the claim.","evidenceBasis":"fact_check_match"}`)
	defer srv.Close()

	c := New(Config{APIKey: "test", BaseURL: srv.URL + "/v1"})
	res, err := c.Assess(context.Background(), Request{
		ClaimText:     "the deficit doubled",
		GoogleVerdict: model.VerdictFalse,
		GoogleFinding: model.ProviderFinding{State: model.EvidenceMatched, Summary: "rated false"},
	})
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if res.AiVerdict != model.VerdictFalse {
		t.Errorf("verdict = %q, want false", res.AiVerdict)
	}
	if res.AiConfidence != 0.9 {
		t.Errorf("confidence = %v, want 0.9 (classified evidence, no cap)", res.AiConfidence)
	}
	if res.EvidenceBasis != model.BasisFactCheck {
		t.Errorf("basis = %q, want fact_check_match", res.EvidenceBasis)
	}
	if res.CorrectedClaim == "" || res.AiSummary == "" {
		t.Error("expected corrected claim and summary to survive")
	}
}

func TestAssessMalformedOutputFallsBack(t *testing.T) {
	srv := chatServer(t, `this is not json`)
	defer srv.Close()

	c := New(Config{APIKey: "test", BaseURL: srv.URL + "/v1"})
	res, err := c.Assess(context.Background(), Request{ClaimText: "claim"})
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if res.AiVerdict != model.VerdictUnverified {
		t.Errorf("verdict = %q, want unverified fallback", res.AiVerdict)
	}
}

func TestAssessServerErrorFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{APIKey: "test", BaseURL: srv.URL + "/v1"})
	res, err := c.Assess(context.Background(), Request{ClaimText: "claim"})
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if res.AiVerdict != model.VerdictUnverified {
		t.Errorf("verdict = %q, want unverified fallback", res.AiVerdict)
	}
}

func TestAssessCancellationPropagates(t *testing.T) {
	srv := chatServer(t, `{"aiVerdict":"true"}`)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(Config{APIKey: "test", BaseURL: srv.URL + "/v1"})
	_, err := c.Assess(ctx, Request{ClaimText: "claim"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestPostProcess(t *testing.T) {
	conf := func(v float64) *float64 { return &v }
	str := func(s string) *string { return &s }

	tests := []struct {
		name     string
		out      wire
		req      Request
		verdict  model.Verdict
		confWant float64
	}{
		{
			name:     "normalizes case and whitespace",
			out:      wire{AiVerdict: "  FALSE ", AiConfidence: conf(0.8)},
			req:      Request{GoogleVerdict: model.VerdictFalse},
			verdict:  model.VerdictFalse,
			confWant: 0.8,
		},
		{
			name:     "unknown verdict becomes unverified",
			out:      wire{AiVerdict: "probably", AiConfidence: conf(0.8)},
			req:      Request{GoogleVerdict: model.VerdictFalse},
			verdict:  model.VerdictUnverified,
			confWant: 0.8,
		},
		{
			name:     "confidence clamped to unit range",
			out:      wire{AiVerdict: "true", AiConfidence: conf(1.7)},
			req:      Request{GoogleVerdict: model.VerdictTrue},
			verdict:  model.VerdictTrue,
			confWant: 1,
		},
		{
			name:     "no classified evidence caps confidence",
			out:      wire{AiVerdict: "true", AiConfidence: conf(0.95)},
			req:      Request{},
			verdict:  model.VerdictTrue,
			confWant: noEvidenceConfidenceCap,
		},
		{
			name:     "unverified google verdict does not count as evidence",
			out:      wire{AiVerdict: "misleading", AiConfidence: conf(0.9)},
			req:      Request{GoogleVerdict: model.VerdictUnverified},
			verdict:  model.VerdictMisleading,
			confWant: noEvidenceConfidenceCap,
		},
		{
			name:     "fred match lifts the cap",
			out:      wire{AiVerdict: "false", AiConfidence: conf(0.9)},
			req:      Request{FredFinding: model.ProviderFinding{State: model.EvidenceMatched}},
			verdict:  model.VerdictFalse,
			confWant: 0.9,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := postProcess(tt.out, tt.req)
			if got.AiVerdict != tt.verdict {
				t.Errorf("verdict = %q, want %q", got.AiVerdict, tt.verdict)
			}
			if got.AiConfidence != tt.confWant {
				t.Errorf("confidence = %v, want %v", got.AiConfidence, tt.confWant)
			}
		})
	}

	t.Run("long fields clamp", func(t *testing.T) {
		long := strings.Repeat("x", 2000)
		got := postProcess(wire{AiVerdict: "true", AiSummary: str(long), CorrectedClaim: str(long)}, Request{})
		if len([]rune(got.AiSummary)) != maxFieldChars {
			t.Errorf("summary length = %d, want %d", len([]rune(got.AiSummary)), maxFieldChars)
		}
		if len([]rune(got.CorrectedClaim)) != maxFieldChars {
			t.Errorf("corrected length = %d, want %d", len([]rune(got.CorrectedClaim)), maxFieldChars)
		}
	})
}

func TestBuildPromptLabelsAbsentEvidence(t *testing.T) {
	p := buildPrompt(Request{ClaimText: "inflation is at a record low"})
	for _, want := range []string{"Claim: inflation is at a record low", "Fact-check search:", "Economic indicators:", "Legislative records:", string(model.EvidenceNone)} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q:\n%s", want, p)
		}
	}
}

func TestIsCancellation(t *testing.T) {
	if !IsCancellation(context.Canceled) || !IsCancellation(context.DeadlineExceeded) {
		t.Error("context errors should classify as cancellation")
	}
	if IsCancellation(errors.New("boom")) {
		t.Error("plain error should not classify as cancellation")
	}
}
