// Package ingest maintains a continuous stream of canonical PCM from a
// remote live source. It supervises the extractor/decoder subprocess pair,
// slices the decoded bytes into fixed-duration chunks, and drives the
// reconnect and stall-recovery machinery.
package ingest

import (
	"context"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/model"
)

// Audio format constants shared with the WAV framer.
const (
	SampleRate     = 16000
	BytesPerSample = 2
)

// Chunking and retry bounds.
const (
	DefaultChunkSeconds = 15
	MinChunkSeconds     = 5
	MaxChunkSeconds     = 30

	DefaultStallTimeout = 45 * time.Second
	MinStallTimeout     = 1 * time.Second
	MaxStallTimeout     = 300 * time.Second

	DefaultRetryBase = 1000 * time.Millisecond
	DefaultRetryMax  = 15000 * time.Millisecond
)

// Timing knobs, vars so tests can shrink them.
var (
	watchdogInterval = 2 * time.Second
	closeWait        = 1500 * time.Millisecond
	killEscalation   = 2000 * time.Millisecond
)

// Config tunes a supervisor. Out-of-range values are clamped in New.
type Config struct {
	SourceURL        string
	ChunkSeconds     int
	StallTimeout     time.Duration
	ReconnectEnabled bool
	MaxRetries       int // 0 means unlimited
	RetryBase        time.Duration
	RetryMax         time.Duration
	ExtractorBin     string
	DecoderBin       string
}

// Hooks connect the supervisor to the rest of the run. Emit and OnChunk are
// required; OnChunk may block, which backpressures the read loop.
type Hooks struct {
	Emit           func(model.Event)
	OnChunk        func(model.PcmChunk)
	OnAttemptStart func()                 // reset transcription overlap context
	OnTerminal     func(model.StopReason) // called at most once when the run must stop
}

// attempt is one contiguous subprocess session.
type attempt struct {
	pair          procPair
	startedAt     time.Time
	lastAudioByte time.Time
	gotPCM        bool
	finalized     bool
	teardownDone  bool
	stalled       bool
	processError  error
	extractorExit *exitStatus
	decoderExit   *exitStatus
	closeTimer    *time.Timer
}

// Supervisor owns the subprocess pair, the PCM buffer, the chunk counter,
// the reconnect attempt counter, and the stall watchdog.
type Supervisor struct {
	cfg   Config
	hooks Hooks
	log   zerolog.Logger

	spawn   spawnFunc
	timeNow func() time.Time
	randInt func(n int) int

	mu               sync.Mutex
	ctx              context.Context
	attempt          *attempt
	reconnectAttempt int
	chunkIndex       int
	buf              []byte
	everPCM          bool
	stopping         bool
	terminalOnce     sync.Once
	reconnectTimer   *time.Timer
	watchdogStop     chan struct{}
}

// New creates a supervisor. Start must be called to spawn the first attempt.
func New(cfg Config, hooks Hooks) *Supervisor {
	if cfg.ChunkSeconds == 0 {
		cfg.ChunkSeconds = DefaultChunkSeconds
	}
	cfg.ChunkSeconds = clampInt(cfg.ChunkSeconds, MinChunkSeconds, MaxChunkSeconds)
	if cfg.StallTimeout == 0 {
		cfg.StallTimeout = DefaultStallTimeout
	}
	cfg.StallTimeout = clampDur(cfg.StallTimeout, MinStallTimeout, MaxStallTimeout)
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultRetryBase
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = DefaultRetryMax
	}
	return &Supervisor{
		cfg:     cfg,
		hooks:   hooks,
		log:     log.With().Str("component", "ingest").Logger(),
		spawn:   spawnExec,
		timeNow: time.Now,
		randInt: rand.Intn,
	}
}

// ChunkSeconds returns the clamped chunk duration.
func (s *Supervisor) ChunkSeconds() int { return s.cfg.ChunkSeconds }

func (s *Supervisor) chunkBytes() int {
	return s.cfg.ChunkSeconds * SampleRate * BytesPerSample
}

// Start spawns the first attempt and the stall watchdog. ctx is the run
// context; its cancellation stops all child goroutines.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.watchdogStop = make(chan struct{})
	s.mu.Unlock()
	go s.watchdog()
	s.startAttempt()
}

// Stop is the manual teardown path: terminate the subprocesses and report
// the manual stop reason exactly once.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.stopping = true
	att := s.attempt
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	if s.watchdogStop != nil {
		close(s.watchdogStop)
		s.watchdogStop = nil
	}
	s.mu.Unlock()

	if att != nil {
		s.teardown(att)
	}
	s.terminal(model.StopManual)
}

// terminal reports the final stop reason at most once.
func (s *Supervisor) terminal(reason model.StopReason) {
	s.terminalOnce.Do(func() {
		if s.hooks.OnTerminal != nil {
			s.hooks.OnTerminal(reason)
		}
	})
}

// startAttempt clears the PCM buffer, resets the overlap context, and spawns
// both processes.
func (s *Supervisor) startAttempt() {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return
	}
	s.buf = s.buf[:0]
	ctx := s.ctx
	s.mu.Unlock()

	if s.hooks.OnAttemptStart != nil {
		s.hooks.OnAttemptStart()
	}

	pair, err := s.spawn(ctx, s.cfg)
	if err != nil {
		s.log.Error().Err(err).Msg("spawn failed")
		s.mu.Lock()
		everPCM := s.everPCM
		s.mu.Unlock()
		if !everPCM {
			// Fatal: the pipeline never produced a byte.
			s.hooks.Emit(model.Event{Type: model.EventPipelineError, Message: "ingest spawn failed: " + err.Error()})
			s.terminal(model.StopProcessError)
			return
		}
		s.scheduleReconnect(model.StopProcessError)
		return
	}

	now := s.timeNow()
	att := &attempt{pair: pair, startedAt: now, lastAudioByte: now}
	s.mu.Lock()
	s.attempt = att
	s.mu.Unlock()

	go s.readLoop(att)
	go s.watchExit(att, pair.ExtractorExit(), &att.extractorExit)
	go s.watchExit(att, pair.DecoderExit(), &att.decoderExit)
}

// readLoop consumes decoder stdout, buffers PCM, and slices chunks.
func (s *Supervisor) readLoop(att *attempt) {
	buf := make([]byte, 32*1024)
	for {
		n, err := att.pair.PCM().Read(buf)
		if n > 0 {
			s.onPCM(att, buf[:n])
		}
		if err != nil {
			if err != io.EOF {
				s.noteProcessError(att, err)
			}
			return
		}
	}
}

func (s *Supervisor) onPCM(att *attempt, p []byte) {
	s.mu.Lock()
	if s.stopping || att != s.attempt {
		s.mu.Unlock()
		return
	}
	att.lastAudioByte = s.timeNow()
	firstOfAttempt := !att.gotPCM
	att.gotPCM = true
	s.everPCM = true
	reconnected := firstOfAttempt && s.reconnectAttempt > 0
	if reconnected {
		s.reconnectAttempt = 0
	}
	s.buf = append(s.buf, p...)

	var chunks []model.PcmChunk
	chunkBytes := s.chunkBytes()
	for len(s.buf) >= chunkBytes {
		pcm := make([]byte, chunkBytes)
		copy(pcm, s.buf[:chunkBytes])
		s.buf = s.buf[chunkBytes:]
		startSec := float64(s.chunkIndex * s.cfg.ChunkSeconds)
		chunks = append(chunks, model.PcmChunk{
			Index:    s.chunkIndex,
			StartSec: startSec,
			EndSec:   startSec + float64(s.cfg.ChunkSeconds),
			PCM:      pcm,
		})
		s.chunkIndex++
	}
	s.mu.Unlock()

	if reconnected {
		s.hooks.Emit(model.Event{Type: model.EventReconnectSucceeded})
	}
	for _, chunk := range chunks {
		s.hooks.Emit(model.Event{Type: model.EventAudioChunk, Chunk: &model.ChunkMeta{
			Index: chunk.Index, StartSec: chunk.StartSec, EndSec: chunk.EndSec, Bytes: len(chunk.PCM),
		}})
		s.hooks.OnChunk(chunk)
	}
}

// noteProcessError records a stream error and tears the attempt down.
func (s *Supervisor) noteProcessError(att *attempt, err error) {
	s.mu.Lock()
	if att.finalized || s.stopping {
		s.mu.Unlock()
		return
	}
	att.processError = err
	s.mu.Unlock()
	s.log.Warn().Err(err).Msg("ingest stream error")
	s.teardown(att)
	s.finalize(att)
}

// watchExit records one process close. The attempt finalizes when both are
// recorded, or after closeWait from the first.
func (s *Supervisor) watchExit(att *attempt, ch <-chan exitStatus, slot **exitStatus) {
	st, ok := <-ch
	if !ok {
		return
	}
	s.mu.Lock()
	*slot = &st
	both := att.extractorExit != nil && att.decoderExit != nil
	if !both && att.closeTimer == nil {
		att.closeTimer = time.AfterFunc(closeWait, func() { s.finalize(att) })
	}
	s.mu.Unlock()
	if both {
		s.finalize(att)
	}
}

// finalize classifies a finished attempt and applies the reconnect policy.
// Idempotent per attempt.
func (s *Supervisor) finalize(att *attempt) {
	s.mu.Lock()
	if att.finalized {
		s.mu.Unlock()
		return
	}
	att.finalized = true
	if att.closeTimer != nil {
		att.closeTimer.Stop()
	}
	stopping := s.stopping
	reason := classify(att)
	if s.attempt == att {
		s.attempt = nil
	}
	s.mu.Unlock()

	s.teardown(att)
	if stopping {
		return
	}
	s.log.Info().Str("classification", string(reason)).Msg("ingest attempt ended")
	s.scheduleReconnect(reason)
}

// classify maps a finalized attempt onto a stop reason.
func classify(att *attempt) model.StopReason {
	if att.processError != nil || att.stalled {
		return model.StopProcessError
	}
	if att.extractorExit != nil && att.extractorExit.Clean() &&
		att.decoderExit != nil && att.decoderExit.Clean() {
		return model.StopSourceEnded
	}
	return model.StopUpstreamExit
}

// scheduleReconnect applies the retry policy after a failed attempt.
func (s *Supervisor) scheduleReconnect(reason model.StopReason) {
	if !s.cfg.ReconnectEnabled {
		s.terminal(reason)
		return
	}

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return
	}
	s.reconnectAttempt++
	n := s.reconnectAttempt
	if s.cfg.MaxRetries > 0 && n > s.cfg.MaxRetries {
		s.mu.Unlock()
		s.terminal(model.StopReconnectExhausted)
		return
	}
	delay := s.backoffDelay(n)
	s.reconnectTimer = time.AfterFunc(delay, func() {
		s.hooks.Emit(model.Event{Type: model.EventReconnectStarted, Attempt: n})
		s.startAttempt()
	})
	s.mu.Unlock()

	s.hooks.Emit(model.Event{
		Type:    model.EventReconnectScheduled,
		Attempt: n,
		DelayMs: delay.Milliseconds(),
	})
}

// backoffDelay computes the exponential delay with jitter for attempt n,
// floored at 250 ms.
func (s *Supervisor) backoffDelay(n int) time.Duration {
	backoff := s.cfg.RetryBase
	for i := 1; i < n; i++ {
		backoff *= 2
		if backoff >= s.cfg.RetryMax {
			backoff = s.cfg.RetryMax
			break
		}
	}
	if backoff > s.cfg.RetryMax {
		backoff = s.cfg.RetryMax
	}

	jitterCap := backoff / 5
	if jitterCap < 80*time.Millisecond {
		jitterCap = 80 * time.Millisecond
	}
	if jitterCap > 500*time.Millisecond {
		jitterCap = 500 * time.Millisecond
	}
	delay := backoff + time.Duration(s.randInt(int(jitterCap.Milliseconds())))*time.Millisecond
	if delay < 250*time.Millisecond {
		delay = 250 * time.Millisecond
	}
	return delay
}

// watchdog fires the stall detector every watchdogInterval.
func (s *Supervisor) watchdog() {
	s.mu.Lock()
	stop := s.watchdogStop
	s.mu.Unlock()
	if stop == nil {
		return
	}
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.checkStall()
		}
	}
}

func (s *Supervisor) checkStall() {
	s.mu.Lock()
	att := s.attempt
	if att == nil || att.finalized || s.stopping {
		s.mu.Unlock()
		return
	}
	idle := s.timeNow().Sub(att.lastAudioByte)
	if idle < s.cfg.StallTimeout {
		s.mu.Unlock()
		return
	}
	att.stalled = true
	s.mu.Unlock()

	s.log.Warn().Dur("idle", idle).Msg("ingest stalled")
	s.hooks.Emit(model.Event{Type: model.EventIngestStalled, IdleMs: idle.Milliseconds()})
	s.teardown(att)
	s.finalize(att)
}

// teardown terminates the pair with the soft signal, escalating to a kill
// after killEscalation. Idempotent per attempt.
func (s *Supervisor) teardown(att *attempt) {
	s.mu.Lock()
	if att.teardownDone {
		s.mu.Unlock()
		return
	}
	att.teardownDone = true
	s.mu.Unlock()

	att.pair.Terminate()
	time.AfterFunc(killEscalation, func() {
		s.mu.Lock()
		alive := att.extractorExit == nil || att.decoderExit == nil
		s.mu.Unlock()
		if alive {
			att.pair.Kill()
		}
	})
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampDur(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
