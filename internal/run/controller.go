// Package run owns the singleton pipeline run: the claim lifecycle store,
// the event fan-out hub, the approval orchestrator, and the wiring between
// the audio supervisor, transcription worker, transcript assembler, claim
// detector, and research scheduler. All shared state is mutated on a single
// event-loop goroutine fed by a command channel.
package run

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/activity"
	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/detect"
	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/ingest"
	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/model"
	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/outputs"
	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/research"
	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/transcribe"
	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/transcript"
	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/wav"
)

const (
	eventQueueDepth = 1024
	chunkQueueDepth = 8
)

// AudioSupervisor is the ingest surface the controller drives; the real one
// lives in internal/ingest, tests substitute a scripted fake.
type AudioSupervisor interface {
	Start(ctx context.Context)
	Stop()
	ChunkSeconds() int
}

// Options wires a controller. Transcriber and Providers are required;
// Activity is optional.
type Options struct {
	ChunkSeconds        int
	DetectionThreshold  float64
	ResearchConcurrency int
	TranscriptionModel  string

	Ingest ingest.Config // SourceURL is filled per run
	Render outputs.RendererConfig

	Transcriber transcribe.Transcriber
	Providers   research.Providers
	Activity    *activity.Sink

	// NewSupervisor is a test seam; nil means the real subprocess pair.
	NewSupervisor func(ingest.Config, ingest.Hooks) AudioSupervisor
}

// activeRun bundles everything scoped to one run.
type activeRun struct {
	run        *model.Run
	store      *claimStore
	cancel     context.CancelFunc
	ctx        context.Context
	supervisor AudioSupervisor
	assembler  *transcript.Assembler
	scheduler  *research.Scheduler
	renderer   *outputs.Renderer
	deduper    *detect.Deduper
	chunks     chan model.PcmChunk
	stopping   bool
	stopped    bool
}

// Controller is the per-host run owner.
type Controller struct {
	opts     Options
	detector *detect.Detector
	log      zerolog.Logger

	events chan model.Event
	ops    chan func()

	// Loop-owned state.
	hub    *hub
	active *activeRun
}

// NewController creates the controller and starts its event loop. ctx bounds
// the loop's lifetime (normally the process lifetime).
func NewController(ctx context.Context, opts Options) *Controller {
	c := &Controller{
		opts:     opts,
		detector: detect.NewDetector(),
		log:      log.With().Str("component", "run").Logger(),
		events:   make(chan model.Event, eventQueueDepth),
		ops:      make(chan func(), 16),
	}
	c.hub = newHub(c.log)
	if c.opts.NewSupervisor == nil {
		c.opts.NewSupervisor = func(cfg ingest.Config, hooks ingest.Hooks) AudioSupervisor {
			return ingest.New(cfg, hooks)
		}
	}
	go c.loop(ctx)
	return c
}

// loop is the single goroutine that owns the claim map, the hub, and the
// dedupe index.
func (c *Controller) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.events:
			c.apply(ev)
		case fn := <-c.ops:
			fn()
		}
	}
}

// do runs fn on the event loop and waits for it.
func (c *Controller) do(fn func()) {
	done := make(chan struct{})
	c.ops <- func() {
		defer close(done)
		fn()
	}
	<-done
}

// publish enqueues an event for the loop. Producers never block the loop:
// on overflow the event is dropped with a log line.
func (c *Controller) publish(ev model.Event) {
	select {
	case c.events <- ev:
	default:
		c.log.Warn().Str("type", string(ev.Type)).Msg("event queue full, dropping")
	}
}

// apply is the single mutation path: run-id filter, merge rule, version
// bump, policy recompute, seq assignment, ring append, broadcast, activity.
func (c *Controller) apply(ev model.Event) {
	ar := c.active
	if ar == nil {
		return
	}
	now := time.Now()

	if ev.RunID == "" {
		ev.RunID = ar.run.ID
	}
	if ev.Type.IsClaimEvent() {
		if ev.Type == model.EventClaimDetected && ev.Claim != nil && ar.deduper.Seen(ev.Claim.Text) {
			return
		}
		claim := ar.store.apply(&ev, now)
		if claim == nil {
			return
		}
		ev.Claim = claim.Clone()
		if ev.Type == model.EventClaimDetected {
			// Fresh claims go straight onto the research queue.
			ar.scheduler.Enqueue(claim.Clone())
		}
	}
	ev.At = now.UTC().Format(time.RFC3339Nano)
	ev.Outcome = nil
	ev.Tag = nil

	c.hub.broadcast(ev)
	c.record(ev)
}

// record forwards the enriched event to the activity sink.
func (c *Controller) record(ev model.Event) {
	if c.opts.Activity == nil {
		return
	}
	refID := ev.ClaimID
	if refID == "" && ev.Segment != nil {
		refID = ev.Segment.ID
	}
	c.opts.Activity.Add(activity.Record{
		RunID:   ev.RunID,
		Kind:    string(ev.Type),
		RefID:   refID,
		Payload: ev,
	})
}

// StartRun starts the singleton pipeline for sourceURL.
func (c *Controller) StartRun(sourceURL string) (*model.Run, error) {
	if err := validateSourceURL(sourceURL); err != nil {
		return nil, err
	}
	var (
		run *model.Run
		err error
	)
	c.do(func() { run, err = c.startRunLocked(sourceURL) })
	return run, err
}

func validateSourceURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ErrBadInput
	}
	return nil
}

func (c *Controller) startRunLocked(sourceURL string) (*model.Run, error) {
	if c.active != nil && !c.active.stopped {
		return nil, ErrRunActive
	}

	runID := "run-" + uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())

	run := &model.Run{
		ID:                 runID,
		SourceURL:          sourceURL,
		TranscriptionModel: c.opts.TranscriptionModel,
		StartedAt:          time.Now(),
	}

	ar := &activeRun{
		run:     run,
		store:   newClaimStore(runID),
		ctx:     ctx,
		cancel:  cancel,
		deduper: detect.NewDeduper(),
		chunks:  make(chan model.PcmChunk, chunkQueueDepth),
	}

	ar.assembler = transcript.New(transcript.Config{RunID: runID},
		func(seg model.TranscriptSegment) {
			c.publish(model.Event{Type: model.EventTranscriptSegment, RunID: runID, Segment: &seg})
		},
		func(text string, chunkStartSec float64) {
			c.detectClaims(runID, text, chunkStartSec)
		},
	)

	ar.scheduler = research.New(c.opts.Providers, c.opts.ResearchConcurrency, c.publish)
	ar.scheduler.Start(ctx)

	ar.renderer = outputs.NewRenderer(c.opts.Render, c.publish)

	ingestCfg := c.opts.Ingest
	ingestCfg.SourceURL = sourceURL
	if ingestCfg.ChunkSeconds == 0 {
		ingestCfg.ChunkSeconds = c.opts.ChunkSeconds
	}
	ar.supervisor = c.opts.NewSupervisor(ingestCfg, ingest.Hooks{
		Emit: func(ev model.Event) {
			ev.RunID = runID
			c.publish(ev)
		},
		OnChunk: func(chunk model.PcmChunk) {
			select {
			case ar.chunks <- chunk:
			case <-ctx.Done():
			}
		},
		OnAttemptStart: ar.assembler.ResetContext,
		OnTerminal: func(reason model.StopReason) {
			// Runs off the supervisor goroutine; StopRun needs the loop.
			go c.stopRun(reason)
		},
	})
	run.ChunkSeconds = ar.supervisor.ChunkSeconds()

	c.active = ar
	c.hub.clearHistory()

	go c.transcriptionWorker(ar)
	ar.supervisor.Start(ctx)

	c.apply(model.Event{Type: model.EventPipelineStarted, RunID: runID, Message: sourceURL})
	if c.opts.Activity != nil {
		c.opts.Activity.Add(activity.Record{RunID: runID, Kind: "run.start", Payload: run})
	}
	c.log.Info().Str("runId", runID).Str("url", sourceURL).Msg("run started")
	return run, nil
}

// StopRun stops the active run with the manual reason.
func (c *Controller) StopRun() (bool, error) {
	var err error
	c.do(func() {
		if c.active == nil || c.active.stopped {
			err = ErrNoRun
			return
		}
		c.stopRunLocked(model.StopManual)
	})
	return false, err
}

func (c *Controller) stopRun(reason model.StopReason) {
	c.do(func() { c.stopRunLocked(reason) })
}

// stopRunLocked is the single teardown path: flush, cancel, drop queues,
// stop subprocesses, emit pipeline.stopped exactly once.
func (c *Controller) stopRunLocked(reason model.StopReason) {
	ar := c.active
	if ar == nil || ar.stopped || ar.stopping {
		return
	}
	ar.stopping = true

	ar.assembler.Flush()
	ar.cancel()
	ar.supervisor.Stop()

	now := time.Now()
	ar.run.StoppedAt = &now
	ar.run.StopReason = reason
	ar.stopped = true

	c.apply(model.Event{Type: model.EventPipelineStopped, RunID: ar.run.ID, Reason: reason})
	if c.opts.Activity != nil {
		c.opts.Activity.Add(activity.Record{RunID: ar.run.ID, Kind: "run.stop", Payload: ar.run})
	}
	c.log.Info().Str("runId", ar.run.ID).Str("reason", string(reason)).Msg("run stopped")
}

// transcriptionWorker is the single in-flight transcription consumer,
// preserving FIFO chunk order for correct prior-context stitching.
func (c *Controller) transcriptionWorker(ar *activeRun) {
	for {
		select {
		case <-ar.ctx.Done():
			return
		case chunk := <-ar.chunks:
			framed := wav.Frame(chunk.PCM)
			prior := ar.assembler.PriorContext()
			text, err := c.opts.Transcriber.Transcribe(ar.ctx, framed, prior)
			if err != nil {
				if ar.ctx.Err() != nil {
					return
				}
				c.publish(model.Event{
					Type:    model.EventTranscriptError,
					RunID:   ar.run.ID,
					Message: err.Error(),
				})
				continue
			}
			if text != "" {
				ar.assembler.Accept(text, chunk)
			}
		}
	}
}

// detectClaims scores sentence runs and publishes detection skeletons; the
// loop assigns identity and handles dedupe.
func (c *Controller) detectClaims(runID, text string, chunkStartSec float64) {
	candidates := c.detector.Detect(text, detect.Options{
		ChunkStartSec: chunkStartSec,
		Threshold:     c.opts.DetectionThreshold,
	})
	for _, cand := range candidates {
		c.publish(model.Event{
			Type:  model.EventClaimDetected,
			RunID: runID,
			Claim: &model.Claim{
				Text:           cand.Text,
				Reasons:        cand.Reasons,
				Score:          cand.Score,
				Category:       cand.Category,
				TypeTag:        cand.TypeTag,
				TypeConfidence: cand.TypeConfidence,
				ChunkStartSec:  cand.ChunkStartSec,
				ChunkClock:     model.ClockFromSeconds(cand.ChunkStartSec),
			},
		})
	}
}

// Status reports whether a run is active and its id.
func (c *Controller) Status() (running bool, runID string) {
	c.do(func() {
		if c.active != nil {
			runID = c.active.run.ID
			running = !c.active.stopped
		}
	})
	return running, runID
}

// Claims lists snapshot clones of the current run's claims in detection
// order.
func (c *Controller) Claims() []*model.Claim {
	var out []*model.Claim
	c.do(func() {
		if c.active != nil {
			out = c.active.store.list()
		}
	})
	return out
}

// Subscribe attaches an event-stream subscriber with replay after lastSeq.
func (c *Controller) Subscribe(lastSeq int64) *Subscription {
	var sub *Subscription
	c.do(func() {
		id, replay, ch := c.hub.subscribe(lastSeq)
		sub = &Subscription{
			ID:     id,
			Replay: replay,
			Events: ch,
			Cancel: func() {
				c.do(func() { c.hub.unsubscribe(id) })
			},
		}
	})
	return sub
}
