package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/model"
)

func testCore() *Core {
	return NewCore(CoreConfig{Timeout: 2 * time.Second, RequestsPerSecond: 1000, Burst: 1000})
}

func fcReviewJSON(publisher, rating, title, date string) string {
	return fmt.Sprintf(`{
		"publisher": {"name": %q, "site": "example.com"},
		"url": "https://example.com/%s",
		"title": %q,
		"reviewDate": %q,
		"textualRating": %q
	}`, publisher, strings.ToLower(publisher), title, date, rating)
}

func TestFactCheckSearchRanksClassifiedFirst(t *testing.T) {
	recent := time.Now().AddDate(0, -6, 0).Format("2006-01-02")
	old := time.Now().AddDate(-3, -6, 0).Format("2006-01-02")

	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if got := r.URL.Query().Get("key"); got != "fc-key" {
			t.Errorf("key = %q, want fc-key", got)
		}
		if got := r.URL.Query().Get("languageCode"); got != "en-US" {
			t.Errorf("first call languageCode = %q, want en-US", got)
		}
		if !strings.Contains(r.URL.Query().Get("query"), "Inflation") {
			t.Errorf("query missing claim text: %q", r.URL.Query().Get("query"))
		}
		fmt.Fprintf(w, `{"claims": [
			{"text": "Inflation fell to 3.1 percent in 2024", "claimReview": [%s]},
			{"text": "Inflation numbers were misquoted", "claimReview": [%s]}
		]}`,
			fcReviewJSON("PolitiFact", "False", "Inflation fell to 3.1 percent in 2024 checked", recent),
			fcReviewJSON("Snopes", "Unproven", "Inflation misquote rumor", old))
	}))
	defer server.Close()

	client := NewFactCheckClient(testCore(), "fc-key", server.URL)
	got, err := client.Search(context.Background(), "Inflation fell to 3.1 percent in 2024.")
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	if requests != 1 {
		t.Errorf("expected the first page with candidates to stop the ladder, got %d requests", requests)
	}
	if got.Status != model.StatusResearched {
		t.Errorf("status = %q, want researched", got.Status)
	}
	if got.State != model.EvidenceMatched {
		t.Errorf("state = %q, want matched", got.State)
	}
	if got.Verdict != model.VerdictFalse {
		t.Errorf("verdict = %q, want false (classified review ranks first)", got.Verdict)
	}
	if got.Confidence <= 0 || got.Confidence > 0.98 {
		t.Errorf("confidence = %v, want (0, 0.98]", got.Confidence)
	}
	if got.Confidence != float64(int(got.Confidence*100+0.5))/100 {
		t.Errorf("confidence %v not rounded to 2 decimals", got.Confidence)
	}
	if len(got.Sources) != 2 {
		t.Fatalf("sources = %d, want 2", len(got.Sources))
	}
	if got.Sources[0].Publisher != "PolitiFact" {
		t.Errorf("top source = %q, want PolitiFact", got.Sources[0].Publisher)
	}
	if !strings.Contains(got.Summary, "PolitiFact") {
		t.Errorf("summary = %q, want publisher mention", got.Summary)
	}
}

func TestFactCheckDiscardsStaleReviews(t *testing.T) {
	stale := time.Now().AddDate(-5, 0, 0).Format("2006-01-02")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"claims": [{"text": "Old claim", "claimReview": [%s]}]}`,
			fcReviewJSON("PolitiFact", "False", "A very old review", stale))
	}))
	defer server.Close()

	client := NewFactCheckClient(testCore(), "fc-key", server.URL)
	got, err := client.Search(context.Background(), "An old claim about numbers from long ago.")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if got.Status != model.StatusNoMatch {
		t.Errorf("status = %q, want no_match when all reviews are stale", got.Status)
	}
	if got.State != model.EvidenceNone {
		t.Errorf("state = %q, want none", got.State)
	}
}

func TestFactCheckHTTPErrorReturnsErrorState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error": {"message": "boom"}}`)
	}))
	defer server.Close()

	client := NewFactCheckClient(testCore(), "fc-key", server.URL)
	got, err := client.Search(context.Background(), "Some checkable claim about the economy today.")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if got.State != model.EvidenceError {
		t.Errorf("state = %q, want error", got.State)
	}
	if got.Status != model.StatusNeedsManual {
		t.Errorf("status = %q, want needs_manual_research", got.Status)
	}
	if !strings.Contains(got.Summary, "500") {
		t.Errorf("summary should carry the status code, got %q", got.Summary)
	}
}

func TestFactCheckMissingKey(t *testing.T) {
	client := NewFactCheckClient(testCore(), "", "http://127.0.0.1:0")
	got, err := client.Search(context.Background(), "A claim that will never reach the network.")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if got.State != model.EvidenceError || got.Status != model.StatusNeedsManual {
		t.Errorf("missing key should degrade: state=%q status=%q", got.State, got.Status)
	}
}

func TestFactCheckCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"claims": []}`)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewFactCheckClient(testCore(), "fc-key", server.URL)
	_, err := client.Search(ctx, "A claim cancelled before any request completes.")
	if err == nil {
		t.Fatal("cancelled context must surface as an error")
	}
}

func TestQueryVariants(t *testing.T) {
	long := "The unemployment rate dropped to 3.9 percent in January while inflation cooled and wages continued climbing across nearly every sector of the economy"
	variants := queryVariants(long)
	if len(variants) != 3 {
		t.Fatalf("expected 3 variants, got %d: %q", len(variants), variants)
	}
	if variants[0] != strings.Join(strings.Fields(long), " ") {
		t.Error("first variant should be the full text")
	}
	if got := len(strings.Fields(variants[1])); got != variantTokenLimit {
		t.Errorf("head variant has %d tokens, want %d", got, variantTokenLimit)
	}
	if !strings.Contains(variants[2], "3.9") {
		t.Errorf("focus variant should keep digit tokens: %q", variants[2])
	}
	if strings.Contains(variants[2], " the ") || strings.HasPrefix(variants[2], "the ") {
		t.Errorf("focus variant should drop short tokens: %q", variants[2])
	}

	short := queryVariants("Taxes fell.")
	for i, v := range short {
		for j := i + 1; j < len(short); j++ {
			if v == short[j] {
				t.Errorf("variants not deduped: %q", short)
			}
		}
	}
}

func TestNormalizeRatingVocabulary(t *testing.T) {
	cases := []struct {
		rating string
		want   model.Verdict
	}{
		{"Pants-on-Fire", model.VerdictFalse},
		{"Debunked", model.VerdictFalse},
		{"No Evidence", model.VerdictFalse},
		{"Fake", model.VerdictFalse},
		{"Hoax", model.VerdictFalse},
		{"Fabricated", model.VerdictFalse},
		{"False", model.VerdictFalse},
		{"Misleading", model.VerdictMisleading},
		{"Mostly False", model.VerdictMisleading},
		{"Partly false", model.VerdictMisleading},
		{"Partly true", model.VerdictMisleading},
		{"Half True", model.VerdictMisleading},
		{"Mixed", model.VerdictMisleading},
		{"Missing Context", model.VerdictMisleading},
		{"Taken out of context", model.VerdictMisleading},
		{"Mostly True", model.VerdictTrue},
		{"True", model.VerdictTrue},
		{"Correct", model.VerdictTrue},
		{"Accurate", model.VerdictTrue},
		{"Authentic", model.VerdictTrue},
		{"Unproven", model.VerdictUnverified},
		{"Needs research", model.VerdictUnverified},
		{"", model.VerdictUnverified},
	}
	for _, tc := range cases {
		if got := NormalizeRating(tc.rating); got != tc.want {
			t.Errorf("NormalizeRating(%q) = %q, want %q", tc.rating, got, tc.want)
		}
	}
}

func TestRecencyMultiplier(t *testing.T) {
	cases := []struct {
		age  float64
		ok   bool
		want float64
	}{
		{0.5, true, 1.0},
		{2.0, true, 1.0},
		{3.0, true, 0.85},
		{4.0, true, 0.70},
		{9.0, true, 0.50}, // clamp floor
		{0, false, 1.0},   // unparseable dates get no discount
	}
	for _, tc := range cases {
		got := recencyMultiplier(tc.age, tc.ok)
		if diff := got - tc.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("recencyMultiplier(%v, %v) = %v, want %v", tc.age, tc.ok, got, tc.want)
		}
	}
}

func TestJaccard(t *testing.T) {
	a := ratingTokens("inflation fell percent 2024")
	b := ratingTokens("inflation fell percent 2024")
	if got := jaccard(a, b); got != 1.0 {
		t.Errorf("identical sets = %v, want 1.0", got)
	}
	c := ratingTokens("totally different words entirely")
	if got := jaccard(a, c); got != 0 {
		t.Errorf("disjoint sets = %v, want 0", got)
	}
	if got := jaccard(map[string]bool{}, map[string]bool{}); got != 0 {
		t.Errorf("empty sets = %v, want 0", got)
	}
}

func TestDedupeCandidatesKeepsHighestConfidence(t *testing.T) {
	src := model.Source{Publisher: "P", URL: "u", TextualRating: "False"}
	in := []fcCandidate{
		{verdict: model.VerdictFalse, confidence: 0.5, claimReviewed: "x", source: src},
		{verdict: model.VerdictFalse, confidence: 0.8, claimReviewed: "x", source: src},
		{verdict: model.VerdictFalse, confidence: 0.6, claimReviewed: "y", source: src},
	}
	out := dedupeCandidates(in)
	if len(out) != 2 {
		t.Fatalf("deduped = %d, want 2", len(out))
	}
	if out[0].confidence != 0.8 {
		t.Errorf("kept confidence = %v, want the highest 0.8", out[0].confidence)
	}
}
