// Package transcript stitches per-chunk transcriptions into a continuous,
// sentence-aligned transcript and feeds complete sentences to claim
// detection.
package transcript

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/detect"
	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/model"
)

// Assembly bounds.
const (
	ContextChars       = 200 // rolling tail passed as transcription prior context
	FlushMaxChars      = 600
	DefaultFlushWait   = 4000 * time.Millisecond
	minOverlap         = 10
	claimCarryoverMax  = 900
	claimFallbackChars = 320 // flush an unterminated carryover past this size
	claimFallbackWords = 40  // ...but only if it reads like real speech
)

// Config tunes an assembler. Zero values take the package defaults.
type Config struct {
	RunID     string
	FlushWait time.Duration
}

// Assembler accumulates accepted transcription text for one run. Safe for
// use by one producer; the flush timer runs on its own goroutine.
type Assembler struct {
	mu sync.Mutex

	runID     string
	flushWait time.Duration

	priorTail []rune // last ContextChars of accepted text

	buf      strings.Builder
	bufStart float64
	bufEnd   float64
	segIndex int
	timer    *time.Timer

	claimCarry    strings.Builder
	claimStartSec float64

	onSegment func(model.TranscriptSegment)
	onClaims  func(text string, chunkStartSec float64)
}

// New creates an assembler. onSegment receives every flushed segment;
// onClaims receives sentence runs ready for claim detection. Either may be
// nil.
func New(cfg Config, onSegment func(model.TranscriptSegment), onClaims func(string, float64)) *Assembler {
	wait := cfg.FlushWait
	if wait <= 0 {
		wait = DefaultFlushWait
	}
	return &Assembler{
		runID:     cfg.RunID,
		flushWait: wait,
		onSegment: onSegment,
		onClaims:  onClaims,
	}
}

// PriorContext returns the rolling tail handed to the transcription service
// so it can stitch across chunk boundaries.
func (a *Assembler) PriorContext() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return string(a.priorTail)
}

// ResetContext clears the overlap tail. Called when a new ingest attempt
// starts: the first chunk after a reconnect shares no audio with the last
// accepted text.
func (a *Assembler) ResetContext() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.priorTail = nil
}

// Accept takes the transcription of one chunk, strips any echo of the prior
// tail, buffers the rest, and triggers flushes per the boundary rules.
func (a *Assembler) Accept(text string, chunk model.PcmChunk) {
	a.mu.Lock()
	defer a.mu.Unlock()

	kept := a.stripOverlap(strings.TrimSpace(text))
	if kept != "" {
		tail := []rune(kept)
		if len(tail) > ContextChars {
			tail = tail[len(tail)-ContextChars:]
		}
		a.priorTail = tail
	}
	if kept == "" {
		return
	}

	if a.buf.Len() == 0 {
		a.bufStart = chunk.StartSec
	}
	if a.buf.Len() > 0 {
		a.buf.WriteByte(' ')
	}
	a.buf.WriteString(kept)
	a.bufEnd = chunk.EndSec

	a.feedClaims(kept, chunk.StartSec)

	if a.buf.Len() >= FlushMaxChars {
		a.flushLocked(true)
	} else if complete, _ := detect.SplitSentences(a.buf.String()); len(complete) > 0 {
		a.flushLocked(false)
	}
	a.rearmTimer()
}

// Flush force-drains the buffer and the claim carryover. Used at stop and
// before teardown.
func (a *Assembler) Flush() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.flushLocked(true)
	a.drainClaimCarry()
	if a.timer != nil {
		a.timer.Stop()
	}
}

// flushLocked emits a segment. When all is false, only complete sentences
// are emitted and the unterminated tail is carried into the next segment,
// whose start time becomes this segment's end time.
func (a *Assembler) flushLocked(all bool) {
	buffered := strings.TrimSpace(a.buf.String())
	if buffered == "" {
		a.buf.Reset()
		return
	}

	text := buffered
	carry := ""
	if !all {
		complete, tail := detect.SplitSentences(buffered)
		if len(complete) == 0 {
			return
		}
		text = strings.Join(complete, " ")
		carry = strings.TrimSpace(tail)
	}

	seg := model.TranscriptSegment{
		ID:         fmt.Sprintf("%s-seg-%04d", a.runID, a.segIndex),
		RunID:      a.runID,
		Index:      a.segIndex,
		StartSec:   a.bufStart,
		EndSec:     a.bufEnd,
		StartClock: model.ClockFromSeconds(a.bufStart),
		EndClock:   model.ClockFromSeconds(a.bufEnd),
		Text:       text,
	}
	a.segIndex++

	a.buf.Reset()
	if carry != "" {
		a.buf.WriteString(carry)
		a.bufStart = a.bufEnd
	}

	if a.onSegment != nil {
		a.onSegment(seg)
	}
}

// stripOverlap removes a leading echo of the prior tail from text. The
// comparison lowercases and collapses whitespace on both sides; the longest
// matching prefix within [minOverlap, ContextChars] wins.
func (a *Assembler) stripOverlap(text string) string {
	if len(a.priorTail) == 0 || text == "" {
		return text
	}
	newRunes := []rune(text)
	limit := len(a.priorTail)
	if len(newRunes) < limit {
		limit = len(newRunes)
	}
	if limit > ContextChars {
		limit = ContextChars
	}
	for l := limit; l >= minOverlap; l-- {
		tailPart := normalizeOverlap(string(a.priorTail[len(a.priorTail)-l:]))
		headPart := normalizeOverlap(string(newRunes[:l]))
		if tailPart != "" && tailPart == headPart {
			return strings.TrimSpace(string(newRunes[l:]))
		}
	}
	return text
}

func normalizeOverlap(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// feedClaims accumulates kept text and forwards complete sentences to the
// claim callback. Independent of segment flushing.
func (a *Assembler) feedClaims(kept string, chunkStartSec float64) {
	if a.onClaims == nil {
		return
	}
	if a.claimCarry.Len() == 0 {
		a.claimStartSec = chunkStartSec
	} else {
		a.claimCarry.WriteByte(' ')
	}
	a.claimCarry.WriteString(kept)

	combined := a.claimCarry.String()
	complete, tail := detect.SplitSentences(combined)
	tail = strings.TrimSpace(tail)

	if len(complete) > 0 {
		a.onClaims(strings.Join(complete, " "), a.claimStartSec)
	}

	a.claimCarry.Reset()
	if tail == "" {
		return
	}
	if r := []rune(tail); len(r) > claimCarryoverMax {
		tail = string(r[len(r)-claimCarryoverMax:])
	}
	// Safety valve: slow speech can run for minutes without a terminator.
	if len(tail) > claimFallbackChars && len(strings.Fields(tail)) >= claimFallbackWords {
		a.onClaims(tail, chunkStartSec)
		return
	}
	a.claimCarry.WriteString(tail)
	a.claimStartSec = chunkStartSec
}

func (a *Assembler) drainClaimCarry() {
	if a.onClaims == nil {
		return
	}
	tail := strings.TrimSpace(a.claimCarry.String())
	a.claimCarry.Reset()
	if tail != "" {
		a.onClaims(tail, a.claimStartSec)
	}
}

// rearmTimer schedules a full drain if no new text arrives in time.
func (a *Assembler) rearmTimer() {
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.flushWait, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.buf.Len() == 0 {
			return
		}
		log.Debug().Str("component", "transcript").Msg("idle flush")
		a.flushLocked(true)
	})
}
