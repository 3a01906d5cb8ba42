package api

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/model"
	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/run"
)

// stubController lets each test script exactly the surface it exercises.
type stubController struct {
	startFn     func(string) (*model.Run, error)
	stopFn      func() (bool, error)
	statusFn    func() (bool, string)
	claimsFn    func() []*model.Claim
	subscribeFn func(int64) *run.Subscription
	approveFn   func(string, int) (*run.ApprovalResult, error)
	rejectFn    func(string, int) (*model.Claim, error)
	packageFn   func(string, int) (*run.ApprovalResult, error)
	renderFn    func(string, int, bool, string) (*run.ApprovalResult, error)
	tagFn       func(string, int, model.ClaimTypeTag, string) (*model.Claim, error)
}

func (s *stubController) StartRun(url string) (*model.Run, error) { return s.startFn(url) }
func (s *stubController) StopRun() (bool, error)                  { return s.stopFn() }

func (s *stubController) Status() (bool, string) {
	if s.statusFn == nil {
		return false, ""
	}
	return s.statusFn()
}

func (s *stubController) Claims() []*model.Claim {
	if s.claimsFn == nil {
		return nil
	}
	return s.claimsFn()
}

func (s *stubController) Subscribe(lastSeq int64) *run.Subscription { return s.subscribeFn(lastSeq) }

func (s *stubController) ApproveOutput(id string, v int) (*run.ApprovalResult, error) {
	return s.approveFn(id, v)
}

func (s *stubController) RejectOutput(id string, v int) (*model.Claim, error) {
	return s.rejectFn(id, v)
}

func (s *stubController) GeneratePackage(id string, v int) (*run.ApprovalResult, error) {
	return s.packageFn(id, v)
}

func (s *stubController) RenderImage(id string, v int, force bool, nonce string) (*run.ApprovalResult, error) {
	return s.renderFn(id, v, force, nonce)
}

func (s *stubController) TagOverride(id string, v int, tag model.ClaimTypeTag, reason string) (*model.Claim, error) {
	return s.tagFn(id, v, tag, reason)
}

func doRequest(t *testing.T, h http.Handler, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("bad response body %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealthIsOpen(t *testing.T) {
	srv := NewServer(&stubController{
		statusFn: func() (bool, string) { return true, "run-live" },
	}, Config{ControlPassword: "secret"})

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeResponse(t, rec)
	if body["running"] != true || body["runId"] != "run-live" {
		t.Errorf("body = %v", body)
	}
}

func TestControlSecret(t *testing.T) {
	srv := NewServer(&stubController{
		stopFn: func() (bool, error) { return false, nil },
	}, Config{ControlPassword: "hunter2"})
	h := srv.Handler()

	if rec := doRequest(t, h, http.MethodPost, "/stop", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("no password: status = %d, want 401", rec.Code)
	}
	if rec := doRequest(t, h, http.MethodPost, "/stop", "", map[string]string{"X-Control-Password": "wrong"}); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: status = %d, want 401", rec.Code)
	}
	if rec := doRequest(t, h, http.MethodPost, "/stop", "", map[string]string{"X-Control-Password": "hunter2"}); rec.Code != http.StatusOK {
		t.Errorf("header password: status = %d, want 200", rec.Code)
	}
	if rec := doRequest(t, h, http.MethodPost, "/stop?password=hunter2", "", nil); rec.Code != http.StatusOK {
		t.Errorf("query password: status = %d, want 200", rec.Code)
	}
}

func TestReadProtection(t *testing.T) {
	ctrl := &stubController{claimsFn: func() []*model.Claim { return nil }}

	open := NewServer(ctrl, Config{ControlPassword: "secret"})
	if rec := doRequest(t, open.Handler(), http.MethodGet, "/claims", "", nil); rec.Code != http.StatusOK {
		t.Errorf("unprotected read: status = %d, want 200", rec.Code)
	}

	locked := NewServer(ctrl, Config{ControlPassword: "secret", ProtectRead: true})
	if rec := doRequest(t, locked.Handler(), http.MethodGet, "/claims", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("protected read: status = %d, want 401", rec.Code)
	}
}

func TestStartRun(t *testing.T) {
	var gotURL string
	srv := NewServer(&stubController{
		startFn: func(url string) (*model.Run, error) {
			gotURL = url
			return &model.Run{ID: "run-abc"}, nil
		},
	}, Config{})

	rec := doRequest(t, srv.Handler(), http.MethodPost, "/start",
		`{"youtubeUrl":"https://youtube.com/watch?v=x"}`, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if gotURL != "https://youtube.com/watch?v=x" {
		t.Errorf("url = %q", gotURL)
	}
	if body := decodeResponse(t, rec); body["runId"] != "run-abc" {
		t.Errorf("body = %v", body)
	}
}

func TestStartRunErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"bad url", run.ErrBadInput, http.StatusBadRequest},
		{"already active", run.ErrRunActive, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(&stubController{
				startFn: func(string) (*model.Run, error) { return nil, tt.err },
			}, Config{})
			rec := doRequest(t, srv.Handler(), http.MethodPost, "/start", `{"youtubeUrl":"x"}`, nil)
			if rec.Code != tt.code {
				t.Errorf("status = %d, want %d", rec.Code, tt.code)
			}
		})
	}
}

func TestStopWithoutRun(t *testing.T) {
	srv := NewServer(&stubController{
		stopFn: func() (bool, error) { return false, run.ErrNoRun },
	}, Config{})
	if rec := doRequest(t, srv.Handler(), http.MethodPost, "/stop", "", nil); rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestClaimsListNeverNull(t *testing.T) {
	srv := NewServer(&stubController{claimsFn: func() []*model.Claim { return nil }}, Config{})
	rec := doRequest(t, srv.Handler(), http.MethodGet, "/claims", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), `"claims":null`) {
		t.Error("claims must serialize as an empty array, not null")
	}
}

func TestClaimActionBodyValidation(t *testing.T) {
	srv := NewServer(&stubController{
		approveFn: func(string, int) (*run.ApprovalResult, error) {
			t.Fatal("controller must not be reached")
			return nil, nil
		},
	}, Config{})
	h := srv.Handler()

	if rec := doRequest(t, h, http.MethodPost, "/claims/c1/approve-output", `{not json`, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: status = %d, want 400", rec.Code)
	}
	rec := doRequest(t, h, http.MethodPost, "/claims/c1/approve-output", `{"reason":"x"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing expectedVersion: status = %d, want 400", rec.Code)
	}
	if body := decodeResponse(t, rec); body["error"] != "expectedVersion is required" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestApproveVersionConflict(t *testing.T) {
	srv := NewServer(&stubController{
		approveFn: func(id string, v int) (*run.ApprovalResult, error) {
			return nil, &run.VersionConflictError{ClaimID: id, Expected: v, Current: 5}
		},
	}, Config{})

	rec := doRequest(t, srv.Handler(), http.MethodPost, "/claims/c1/approve-output", `{"expectedVersion":3}`, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	body := decodeResponse(t, rec)
	if body["currentVersion"] != float64(5) {
		t.Errorf("currentVersion = %v, want 5", body["currentVersion"])
	}
}

func TestApprovePolicyBlocked(t *testing.T) {
	srv := NewServer(&stubController{
		approveFn: func(id string, v int) (*run.ApprovalResult, error) {
			return nil, &run.PolicyBlockedError{ClaimID: id, Reason: model.BlockBelowThreshold}
		},
	}, Config{})

	rec := doRequest(t, srv.Handler(), http.MethodPost, "/claims/c1/approve-output", `{"expectedVersion":1}`, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	body := decodeResponse(t, rec)
	if body["blockReason"] != string(model.BlockBelowThreshold) {
		t.Errorf("blockReason = %v", body["blockReason"])
	}
}

func TestApproveUnknownClaim(t *testing.T) {
	srv := NewServer(&stubController{
		approveFn: func(string, int) (*run.ApprovalResult, error) { return nil, run.ErrNotFound },
	}, Config{})
	rec := doRequest(t, srv.Handler(), http.MethodPost, "/claims/nope/approve-output", `{"expectedVersion":1}`, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestRenderImagePassesForce(t *testing.T) {
	var gotForce bool
	var gotNonce string
	srv := NewServer(&stubController{
		renderFn: func(id string, v int, force bool, nonce string) (*run.ApprovalResult, error) {
			gotForce, gotNonce = force, nonce
			return &run.ApprovalResult{Claim: &model.Claim{ID: id}}, nil
		},
	}, Config{})

	rec := doRequest(t, srv.Handler(), http.MethodPost, "/claims/c1/render-image",
		`{"expectedVersion":2,"force":true,"forceNonce":"n-1"}`, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if !gotForce || gotNonce != "n-1" {
		t.Errorf("force = %v nonce = %q", gotForce, gotNonce)
	}
}

func TestTagOverridePassthrough(t *testing.T) {
	var gotTag model.ClaimTypeTag
	var gotReason string
	srv := NewServer(&stubController{
		tagFn: func(id string, v int, tag model.ClaimTypeTag, reason string) (*model.Claim, error) {
			gotTag, gotReason = tag, reason
			return &model.Claim{ID: id, TypeTag: tag}, nil
		},
	}, Config{})

	rec := doRequest(t, srv.Handler(), http.MethodPost, "/claims/c1/tag-override",
		`{"expectedVersion":1,"tag":"other","reason":"compound statement"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if gotTag != model.TagOther || gotReason != "compound statement" {
		t.Errorf("tag = %q reason = %q", gotTag, gotReason)
	}
}

func TestEventsReplay(t *testing.T) {
	var gotLastSeq int64
	events := make(chan model.Event)
	close(events) // stream ends right after replay
	srv := NewServer(&stubController{
		subscribeFn: func(lastSeq int64) *run.Subscription {
			gotLastSeq = lastSeq
			return &run.Subscription{
				Replay: []model.Event{
					{Seq: 43, Type: model.EventClaimDetected},
					{Seq: 44, Type: model.EventClaimUpdated},
				},
				Events: events,
				Cancel: func() {},
			}
		},
	}, Config{})

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/events", "",
		map[string]string{"Last-Event-ID": "42"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if gotLastSeq != 42 {
		t.Errorf("lastSeq = %d, want 42 from Last-Event-ID", gotLastSeq)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "id: 43\nevent: claim.detected\n") ||
		!strings.Contains(body, "id: 44\nevent: claim.updated\n") {
		t.Errorf("sse body = %q", body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
}

func TestEventsStreamsLiveEvents(t *testing.T) {
	events := make(chan model.Event, 1)
	events <- model.Event{Seq: 7, Type: model.EventPipelineStarted}
	close(events)
	srv := NewServer(&stubController{
		subscribeFn: func(int64) *run.Subscription {
			return &run.Subscription{Events: events, Cancel: func() {}}
		},
	}, Config{})

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/events", "", nil)
	if !strings.Contains(rec.Body.String(), "id: 7\nevent: pipeline.started\n") {
		t.Errorf("sse body = %q", rec.Body.String())
	}
}

func TestArtifactsServing(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "c1.svg"), []byte("<svg/>"), 0o644); err != nil {
		t.Fatal(err)
	}
	srv := NewServer(&stubController{}, Config{ArtifactsDir: dir})

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/artifacts/c1.svg", "", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "<svg/>" {
		t.Errorf("status = %d body = %q", rec.Code, rec.Body.String())
	}
	if rec := doRequest(t, srv.Handler(), http.MethodGet, "/artifacts/missing.svg", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing artifact: status = %d, want 404", rec.Code)
	}
}

func TestFixedWindowAllow(t *testing.T) {
	f := newFixedWindow(2)
	base := time.Date(2026, 1, 20, 21, 0, 0, 0, time.UTC)
	now := base
	f.timeNow = func() time.Time { return now }

	if !f.allow("a") || !f.allow("a") {
		t.Fatal("first two hits must pass")
	}
	if f.allow("a") {
		t.Error("third hit in the window must be limited")
	}
	if !f.allow("b") {
		t.Error("a different key has its own bucket")
	}

	now = base.Add(61 * time.Second)
	if !f.allow("a") {
		t.Error("a new window resets the count")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	srv := NewServer(&stubController{
		statusFn: func() (bool, string) { return false, "" },
	}, Config{RateLimitPerMinute: 2})
	h := srv.Handler()

	doRequest(t, h, http.MethodGet, "/healthz", "", nil)
	doRequest(t, h, http.MethodGet, "/healthz", "", nil)
	rec := doRequest(t, h, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
}
