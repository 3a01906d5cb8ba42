// Package transcribe wraps the external speech-to-text service. One WAV
// chunk in, best-effort text out, with the assembler's rolling tail passed
// as prior context so the service stitches across chunk boundaries.
package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultModel is used when no transcription model is configured.
const DefaultModel = "whisper-1"

// Transcriber is implemented by the real client and by test doubles in the
// run package.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte, priorContext string) (string, error)
}

// Client calls an OpenAI-compatible audio transcription endpoint.
type Client struct {
	api     *openai.Client
	model   string
	timeout time.Duration
}

// Config tunes the client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// New creates a transcription client. An empty API key yields a client whose
// calls fail fast with a configuration error.
func New(cfg Config) *Client {
	c := &Client{model: cfg.Model, timeout: cfg.Timeout}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.timeout <= 0 {
		c.timeout = 60 * time.Second
	}
	if cfg.APIKey != "" {
		clientConfig := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientConfig.BaseURL = cfg.BaseURL
		}
		c.api = openai.NewClientWithConfig(clientConfig)
	}
	return c
}

// Model returns the configured model identifier, recorded on the run.
func (c *Client) Model() string { return c.model }

// Transcribe sends one WAV-framed chunk. priorContext biases the decoder
// toward continuing the previous transcript.
func (c *Client) Transcribe(ctx context.Context, wav []byte, priorContext string) (string, error) {
	if c.api == nil {
		return "", fmt.Errorf("transcription API key not configured")
	}

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateTranscription(cctx, openai.AudioRequest{
		Model:    c.model,
		FilePath: "chunk.wav",
		Reader:   bytes.NewReader(wav),
		Prompt:   priorContext,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("transcription call: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
