package model

import "time"

// OutputPackage is the on-air graphics payload assembled for an approved
// claim, pinned to the claim version that was approved.
type OutputPackage struct {
	PackageID       string          `json:"packageId"`
	ClaimID         string          `json:"claimId"`
	RunID           string          `json:"runId"`
	ClaimVersion    int             `json:"claimVersion"`
	Status          PackageStatus   `json:"status"`
	TemplateVersion string          `json:"templateVersion"`
	Payload         *PackagePayload `json:"payload,omitempty"`
	Error           string          `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// PackagePayload is the renderable lower-third content.
type PackagePayload struct {
	Headline      string `json:"headline"` // claim text, truncated for the template
	VerdictLabel  string `json:"verdictLabel"`
	ConfidencePct int    `json:"confidencePct"`
	Attribution   string `json:"attribution,omitempty"` // top source publisher
	Clock         string `json:"clock,omitempty"`       // HH:MM:SS of the claim chunk
	TemplateID    string `json:"templateId"`
}

// PackageStatus tracks package assembly
type PackageStatus string

const (
	PackageNone   PackageStatus = "none"
	PackageQueued PackageStatus = "queued"
	PackageReady  PackageStatus = "ready"
	PackageFailed PackageStatus = "failed"
)

// RenderJob tracks one graphics render, remote or local fallback.
type RenderJob struct {
	RenderJobID    string       `json:"renderJobId"`
	ClaimID        string       `json:"claimId"`
	RunID          string       `json:"runId"`
	ClaimVersion   int          `json:"claimVersion"`
	IdempotencyKey string       `json:"idempotencyKey"`
	TemplateID     string       `json:"templateId"`
	Status         RenderStatus `json:"status"`
	Attempts       int          `json:"attempts"`
	ArtifactURL    string       `json:"artifactUrl,omitempty"`
	Error          string       `json:"error,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// RenderStatus tracks render progress
type RenderStatus string

const (
	RenderNone      RenderStatus = "none"
	RenderQueued    RenderStatus = "queued"
	RenderRendering RenderStatus = "rendering"
	RenderReady     RenderStatus = "ready"
	RenderFailed    RenderStatus = "failed"
)
