package model

// EventType names every record that can cross the event bus
type EventType string

const (
	EventPipelineStarted     EventType = "pipeline.started"
	EventPipelineStopped     EventType = "pipeline.stopped"
	EventPipelineError       EventType = "pipeline.error"
	EventPipelineLog         EventType = "pipeline.log"
	EventReconnectScheduled  EventType = "pipeline.reconnect_scheduled"
	EventReconnectStarted    EventType = "pipeline.reconnect_started"
	EventReconnectSucceeded  EventType = "pipeline.reconnect_succeeded"
	EventIngestStalled       EventType = "pipeline.ingest_stalled"
	EventAudioChunk          EventType = "audio.chunk"
	EventTranscriptSegment   EventType = "transcript.segment"
	EventTranscriptError     EventType = "transcript.error"
	EventClaimDetected       EventType = "claim.detected"
	EventClaimResearching    EventType = "claim.researching"
	EventClaimUpdated        EventType = "claim.updated"
	EventOutputApproved      EventType = "claim.output_approved"
	EventOutputRejected      EventType = "claim.output_rejected"
	EventOutputPackageQueued EventType = "claim.output_package_queued"
	EventOutputPackageReady  EventType = "claim.output_package_ready"
	EventOutputPackageFailed EventType = "claim.output_package_failed"
	EventRenderQueued        EventType = "claim.render_queued"
	EventRenderReady         EventType = "claim.render_ready"
	EventRenderFailed        EventType = "claim.render_failed"
)

// Event is the single envelope shared by producers and subscribers. Producers
// fill the fields relevant to their type; the run owner assigns Seq and At
// and embeds the claim snapshot before fan-out.
type Event struct {
	Seq   int64     `json:"seq,omitempty"` // monotonic per run, assigned at fan-out
	Type  EventType `json:"type"`
	RunID string    `json:"runId,omitempty"`
	At    string    `json:"at,omitempty"` // RFC3339, assigned at fan-out

	Message string     `json:"message,omitempty"`
	Reason  StopReason `json:"reason,omitempty"`
	Attempt int        `json:"attempt,omitempty"` // reconnect attempt number
	DelayMs int64      `json:"delayMs,omitempty"` // scheduled reconnect delay
	IdleMs  int64      `json:"idleMs,omitempty"`  // observed stall idle time

	Chunk   *ChunkMeta         `json:"chunk,omitempty"`
	Segment *TranscriptSegment `json:"segment,omitempty"`

	ClaimID      string         `json:"claimId,omitempty"`
	ClaimVersion *int           `json:"claimVersion,omitempty"` // version pin on package/render events
	Claim        *Claim         `json:"claim,omitempty"`        // full snapshot embed
	Package      *OutputPackage `json:"package,omitempty"`
	Render       *RenderJob     `json:"renderJob,omitempty"`

	// Outcome carries the research block for claim.updated merges. Internal
	// to the run owner, never serialized.
	Outcome *ResearchOutcome `json:"-"`

	// Tag carries an operator tag override on claim.updated. Internal, never
	// serialized.
	Tag *TagOverride `json:"-"`
}

// TagOverride is a manual claim-type change with its audit reason.
type TagOverride struct {
	Tag        ClaimTypeTag
	Confidence float64
	Reason     string
}

// ChunkMeta is the audio.chunk payload (raw PCM never crosses the bus).
type ChunkMeta struct {
	Index    int     `json:"chunkIndex"`
	StartSec float64 `json:"startSec"`
	EndSec   float64 `json:"endSec"`
	Bytes    int     `json:"bytes"`
}

// IsClaimEvent reports whether t mutates or references a claim snapshot.
func (t EventType) IsClaimEvent() bool {
	switch t {
	case EventClaimDetected, EventClaimResearching, EventClaimUpdated,
		EventOutputApproved, EventOutputRejected,
		EventOutputPackageQueued, EventOutputPackageReady, EventOutputPackageFailed,
		EventRenderQueued, EventRenderReady, EventRenderFailed:
		return true
	}
	return false
}
