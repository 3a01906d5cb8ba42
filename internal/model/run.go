package model

import (
	"fmt"
	"time"
)

// Run binds one pipeline execution to one source URL. At most one run is
// active per host.
type Run struct {
	ID                 string     `json:"runId"`
	SourceURL          string     `json:"sourceUrl"`
	ChunkSeconds       int        `json:"chunkSeconds"`
	TranscriptionModel string     `json:"transcriptionModel,omitempty"`
	StartedAt          time.Time  `json:"startedAt"`
	StoppedAt          *time.Time `json:"stoppedAt,omitempty"`
	StopReason         StopReason `json:"stopReason,omitempty"`
}

// StopReason records why a run ended
type StopReason string

const (
	StopManual             StopReason = "manual"
	StopSourceEnded        StopReason = "source_ended"
	StopProcessError       StopReason = "process_error"
	StopUpstreamExit       StopReason = "upstream_exit_nonzero"
	StopReconnectExhausted StopReason = "reconnect_exhausted"
)

// PcmChunk is one fixed-duration slice of raw 16 kHz mono s16le audio.
type PcmChunk struct {
	Index    int     `json:"chunkIndex"`
	StartSec float64 `json:"startSec"`
	EndSec   float64 `json:"endSec"`
	PCM      []byte  `json:"-"`
}

// TranscriptSegment is a flushed, sentence-aligned transcript range.
type TranscriptSegment struct {
	ID         string  `json:"segmentId"` // runId + monotonic index
	RunID      string  `json:"runId"`
	Index      int     `json:"segmentIndex"`
	StartSec   float64 `json:"startSec"`
	EndSec     float64 `json:"endSec"`
	StartClock string  `json:"startClock"`
	EndClock   string  `json:"endClock"`
	Text       string  `json:"text"`
}

// ClockFromSeconds renders seconds-from-run-start as HH:MM:SS.
func ClockFromSeconds(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	total := int(sec)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
