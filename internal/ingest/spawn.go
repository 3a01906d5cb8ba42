package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"syscall"
)

// exitStatus records how one child process ended.
type exitStatus struct {
	Code   int
	Signal string // non-empty when the process died to a signal
	Err    error
}

// Clean reports a zero exit with no signal.
func (e exitStatus) Clean() bool {
	return e.Code == 0 && e.Signal == ""
}

// procPair is one extractor+decoder session. The supervisor only sees this
// contract; tests substitute an in-memory pair.
type procPair interface {
	// PCM is the decoder's stdout: raw 16 kHz mono s16le bytes.
	PCM() io.Reader
	ExtractorExit() <-chan exitStatus
	DecoderExit() <-chan exitStatus
	// Terminate sends the soft signal to both processes.
	Terminate()
	// Kill forcefully ends both processes.
	Kill()
}

type spawnFunc func(ctx context.Context, cfg Config) (procPair, error)

// execPair drives the real subprocess pair: a stream extractor whose stdout
// feeds the decoder's stdin.
type execPair struct {
	extractor *exec.Cmd
	decoder   *exec.Cmd
	pcm       io.Reader
	extExit   chan exitStatus
	decExit   chan exitStatus
}

const stderrTailBytes = 2048

// spawnExec starts the pair. Either start failure tears down whatever did
// start and returns the error.
func spawnExec(ctx context.Context, cfg Config) (procPair, error) {
	extBin := cfg.ExtractorBin
	if extBin == "" {
		extBin = "yt-dlp"
	}
	decBin := cfg.DecoderBin
	if decBin == "" {
		decBin = "ffmpeg"
	}

	extractor := exec.CommandContext(ctx, extBin, "-q", "-o", "-", "-f", "bestaudio", cfg.SourceURL)
	decoder := exec.CommandContext(ctx, decBin,
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-f", "s16le", "-acodec", "pcm_s16le", "-ac", "1", "-ar", "16000",
		"pipe:1")

	extractor.Stderr = newTailBuffer(stderrTailBytes)
	decoder.Stderr = newTailBuffer(stderrTailBytes)

	encoded, err := extractor.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("extractor stdout: %w", err)
	}
	decoder.Stdin = encoded

	pcm, err := decoder.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("decoder stdout: %w", err)
	}

	if err := extractor.Start(); err != nil {
		return nil, fmt.Errorf("start extractor %s: %w", extBin, err)
	}
	if err := decoder.Start(); err != nil {
		_ = extractor.Process.Kill()
		_ = extractor.Wait()
		return nil, fmt.Errorf("start decoder %s: %w", decBin, err)
	}

	p := &execPair{
		extractor: extractor,
		decoder:   decoder,
		pcm:       pcm,
		extExit:   make(chan exitStatus, 1),
		decExit:   make(chan exitStatus, 1),
	}
	go func() { p.extExit <- waitStatus(extractor) }()
	go func() { p.decExit <- waitStatus(decoder) }()
	return p, nil
}

func waitStatus(cmd *exec.Cmd) exitStatus {
	err := cmd.Wait()
	st := exitStatus{Err: err}
	if cmd.ProcessState != nil {
		st.Code = cmd.ProcessState.ExitCode()
		if ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			st.Signal = ws.Signal().String()
		}
	}
	if err == nil {
		st.Err = nil
		st.Code = 0
	}
	return st
}

func (p *execPair) PCM() io.Reader                   { return p.pcm }
func (p *execPair) ExtractorExit() <-chan exitStatus { return p.extExit }
func (p *execPair) DecoderExit() <-chan exitStatus   { return p.decExit }

func (p *execPair) Terminate() {
	signalProc(p.extractor, syscall.SIGTERM)
	signalProc(p.decoder, syscall.SIGTERM)
}

func (p *execPair) Kill() {
	signalProc(p.extractor, syscall.SIGKILL)
	signalProc(p.decoder, syscall.SIGKILL)
}

func signalProc(cmd *exec.Cmd, sig syscall.Signal) {
	if cmd.Process != nil {
		_ = cmd.Process.Signal(sig)
	}
}

// tailBuffer keeps the last max bytes written, for exit diagnostics.
type tailBuffer struct {
	max int
	buf bytes.Buffer
}

func newTailBuffer(max int) *tailBuffer { return &tailBuffer{max: max} }

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf.Write(p)
	if t.buf.Len() > t.max {
		trimmed := t.buf.Bytes()[t.buf.Len()-t.max:]
		var next bytes.Buffer
		next.Write(trimmed)
		t.buf = next
	}
	return len(p), nil
}

func (t *tailBuffer) String() string { return t.buf.String() }
