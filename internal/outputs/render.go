package outputs

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/model"
)

// Render retry policy.
const (
	DefaultMaxAttempts   = 3
	DefaultRetryBackoff  = 500 * time.Millisecond
	DefaultRenderTimeout = 10 * time.Second
)

// RendererConfig tunes a renderer. Endpoint empty selects the local
// placeholder fallback.
type RendererConfig struct {
	Endpoint     string
	Timeout      time.Duration
	ArtifactsDir string
	MaxAttempts  int
	Backoff      time.Duration
}

// Renderer queues graphics renders for approved claims. Jobs are idempotent
// on claimId:claimVersion:templateId; a force flag plus nonce mints a fresh
// key.
type Renderer struct {
	cfg    RendererConfig
	client *http.Client
	emit   func(model.Event)
	log    zerolog.Logger

	timeNow func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	mu   sync.Mutex
	jobs map[string]*model.RenderJob
}

// NewRenderer creates a renderer for one run. emit receives the
// claim.render_* lifecycle events.
func NewRenderer(cfg RendererConfig, emit func(model.Event)) *Renderer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRenderTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultRetryBackoff
	}
	return &Renderer{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		emit:    emit,
		log:     log.With().Str("component", "render").Logger(),
		timeNow: time.Now,
		sleep:   sleepCtx,
		jobs:    make(map[string]*model.RenderJob),
	}
}

// IdempotencyKey builds the job key for a claim version.
func IdempotencyKey(claimID string, claimVersion int, force bool, nonce string) string {
	key := fmt.Sprintf("%s:%d:%s", claimID, claimVersion, TemplateID)
	if force {
		key += ":force:" + nonce
	}
	return key
}

// Render queues a render pinned to claimVersion and returns the job record
// immediately; completion arrives as claim.render_ready or render_failed
// events. Non-forced requests reuse a prior non-failed job.
func (r *Renderer) Render(ctx context.Context, claim *model.Claim, pkg *model.OutputPackage, claimVersion int, force bool, nonce string) *model.RenderJob {
	key := IdempotencyKey(claim.ID, claimVersion, force, nonce)

	r.mu.Lock()
	if existing, ok := r.jobs[key]; ok {
		if !force && existing.Status != model.RenderFailed {
			job := cloneJob(existing)
			r.mu.Unlock()
			return job
		}
		// Re-render of a failed job reuses the record.
		existing.Status = model.RenderQueued
		existing.Error = ""
		existing.UpdatedAt = r.timeNow()
		job := cloneJob(existing)
		r.mu.Unlock()
		r.emitJob(model.EventRenderQueued, job)
		go r.perform(ctx, key, claim, pkg)
		return job
	}

	now := r.timeNow()
	job := &model.RenderJob{
		RenderJobID:    "render-" + uuid.NewString(),
		ClaimID:        claim.ID,
		RunID:          claim.RunID,
		ClaimVersion:   claimVersion,
		IdempotencyKey: key,
		TemplateID:     TemplateID,
		Status:         model.RenderQueued,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	r.jobs[key] = job
	snapshot := cloneJob(job)
	r.mu.Unlock()

	r.emitJob(model.EventRenderQueued, snapshot)
	go r.perform(ctx, key, claim, pkg)
	return snapshot
}

// perform runs the attempt loop for one job.
func (r *Renderer) perform(ctx context.Context, key string, claim *model.Claim, pkg *model.OutputPackage) {
	for {
		r.mu.Lock()
		job := r.jobs[key]
		if job == nil {
			r.mu.Unlock()
			return
		}
		job.Attempts++
		job.Status = model.RenderRendering
		job.UpdatedAt = r.timeNow()
		attempt := job.Attempts
		jobID := job.RenderJobID
		r.mu.Unlock()

		artifactURL, err := r.renderOnce(ctx, jobID, claim, pkg)
		if err == nil {
			r.finishJob(key, model.RenderReady, artifactURL, "")
			return
		}
		if ctx.Err() != nil {
			return
		}
		r.log.Warn().Err(err).Int("attempt", attempt).Str("renderJobId", jobID).Msg("render attempt failed")
		if attempt >= r.cfg.MaxAttempts {
			r.finishJob(key, model.RenderFailed, "", err.Error())
			return
		}
		// Linear backoff between attempts.
		if sleepErr := r.sleep(ctx, time.Duration(attempt)*r.cfg.Backoff); sleepErr != nil {
			return
		}
	}
}

func (r *Renderer) finishJob(key string, status model.RenderStatus, artifactURL, errMsg string) {
	r.mu.Lock()
	job := r.jobs[key]
	if job == nil {
		r.mu.Unlock()
		return
	}
	job.Status = status
	job.ArtifactURL = artifactURL
	job.Error = errMsg
	job.UpdatedAt = r.timeNow()
	snapshot := cloneJob(job)
	r.mu.Unlock()

	eventType := model.EventRenderReady
	if status == model.RenderFailed {
		eventType = model.EventRenderFailed
	}
	r.emitJob(eventType, snapshot)
}

func (r *Renderer) emitJob(t model.EventType, job *model.RenderJob) {
	version := job.ClaimVersion
	r.emit(model.Event{
		Type:         t,
		RunID:        job.RunID,
		ClaimID:      job.ClaimID,
		ClaimVersion: &version,
		Render:       job,
	})
}

// renderOnce performs one render attempt: remote POST when an endpoint is
// configured, local placeholder synthesis otherwise.
func (r *Renderer) renderOnce(ctx context.Context, jobID string, claim *model.Claim, pkg *model.OutputPackage) (string, error) {
	if r.cfg.Endpoint == "" {
		return r.renderLocal(jobID, pkg)
	}
	return r.renderRemote(ctx, jobID, claim, pkg)
}

type remoteRenderResponse struct {
	ArtifactURL string `json:"artifactUrl"`
}

func (r *Renderer) renderRemote(ctx context.Context, jobID string, claim *model.Claim, pkg *model.OutputPackage) (string, error) {
	body, err := json.Marshal(map[string]any{
		"renderJobId": jobID,
		"claim":       claim,
		"package":     pkg,
	})
	if err != nil {
		return "", fmt.Errorf("marshal render request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create render request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("render endpoint: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("render endpoint status %d", resp.StatusCode)
	}
	var out remoteRenderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode render response: %w", err)
	}
	if out.ArtifactURL == "" {
		return "", fmt.Errorf("render endpoint returned no artifact URL")
	}
	return out.ArtifactURL, nil
}

// renderLocal writes a deterministic SVG placeholder under the artifacts dir.
func (r *Renderer) renderLocal(jobID string, pkg *model.OutputPackage) (string, error) {
	if r.cfg.ArtifactsDir == "" {
		return "", fmt.Errorf("no render endpoint and no artifacts dir configured")
	}
	if err := os.MkdirAll(r.cfg.ArtifactsDir, 0o755); err != nil {
		return "", fmt.Errorf("create artifacts dir: %w", err)
	}
	name := jobID + ".svg"
	path := filepath.Join(r.cfg.ArtifactsDir, name)
	if err := os.WriteFile(path, []byte(placeholderSVG(pkg)), 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return "/artifacts/" + name, nil
}

func placeholderSVG(pkg *model.OutputPackage) string {
	headline, verdict, pct := "", "UNVERIFIED", 0
	if pkg != nil && pkg.Payload != nil {
		headline = pkg.Payload.Headline
		verdict = pkg.Payload.VerdictLabel
		pct = pkg.Payload.ConfidencePct
	}
	return fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="1280" height="180">
  <rect width="1280" height="180" fill="#101828"/>
  <text x="24" y="64" fill="#ffffff" font-family="sans-serif" font-size="32">%s</text>
  <text x="24" y="132" fill="#7dd3fc" font-family="sans-serif" font-size="44" font-weight="bold">%s (%d%%)</text>
</svg>
`, escapeXML(headline), escapeXML(verdict), pct)
}

func escapeXML(s string) string {
	repl := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return repl.Replace(s)
}

func cloneJob(j *model.RenderJob) *model.RenderJob {
	cp := *j
	return &cp
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
