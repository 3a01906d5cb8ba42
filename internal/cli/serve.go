package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/activity"
	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/api"
	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/cache"
	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/config"
	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/ingest"
	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/outputs"
	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/providers"
	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/research"
	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/run"
	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/transcribe"
	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/verify"
)

var serveListenAddr string

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pipeline control server",
	Long: `Start the HTTP control surface and the run controller. A run is not
started until POST /start arrives with a source URL; the server hosts at most
one run at a time.

The server shuts down cleanly on SIGINT or SIGTERM: the active run (if any)
is stopped, the activity log is flushed, and in-flight requests drain.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if serveListenAddr != "" {
			cfg.ListenAddr = serveListenAddr
		}
		return runServe(cfg)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveListenAddr, "listen", "", "listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.OpenAIAPIKey == "" {
		log.Warn().Msg("OPENAI_API_KEY not set: transcription will fail and verdicts fall back to unverified")
	}

	if cfg.ArtifactsDir != "" {
		if err := os.MkdirAll(cfg.ArtifactsDir, 0o755); err != nil {
			return fmt.Errorf("create artifacts dir: %w", err)
		}
	}

	var providerCache cache.Cache
	if cfg.CacheDir != "" {
		providerCache = cache.NewLayeredCache(10*time.Minute, cfg.CacheDir, 24*time.Hour)
	} else {
		providerCache = cache.NewMemoryCache(10*time.Minute, 5*time.Minute)
	}

	core := providers.NewCore(providers.CoreConfig{
		Cache:      providerCache,
		HTTPProxy:  cfg.HTTPProxy,
		HTTPSProxy: cfg.HTTPSProxy,
	})

	sink, err := activity.Open(activity.Config{Path: cfg.ActivityDBPath})
	if err != nil {
		return fmt.Errorf("open activity log: %w", err)
	}
	sink.Start(ctx)
	defer func() {
		if err := sink.Close(); err != nil {
			log.Error().Err(err).Msg("close activity log")
		}
	}()

	ctrl := run.NewController(ctx, run.Options{
		ChunkSeconds:        cfg.ChunkSeconds,
		DetectionThreshold:  cfg.DetectionThreshold,
		ResearchConcurrency: cfg.ResearchConcurrency,
		TranscriptionModel:  cfg.TranscriptionModel,
		Ingest: ingest.Config{
			ChunkSeconds:     cfg.ChunkSeconds,
			StallTimeout:     cfg.StallTimeout(),
			ReconnectEnabled: cfg.ReconnectEnabled,
			MaxRetries:       cfg.IngestMaxRetries,
			RetryBase:        cfg.RetryBase(),
			RetryMax:         cfg.RetryMax(),
			ExtractorBin:     cfg.IngestExtractorBin,
			DecoderBin:       cfg.IngestDecoderBin,
		},
		Render: outputs.RendererConfig{
			Endpoint:     cfg.RenderEndpoint,
			Timeout:      cfg.RenderTimeout(),
			ArtifactsDir: cfg.ArtifactsDir,
		},
		Transcriber: transcribe.New(transcribe.Config{
			APIKey: cfg.OpenAIAPIKey,
			Model:  cfg.TranscriptionModel,
		}),
		Providers: research.Providers{
			FactCheck: providers.NewFactCheckClient(core, cfg.FactCheckAPIKey, ""),
			Fred:      providers.NewFredClient(core, cfg.FredAPIKey, ""),
			Congress:  providers.NewCongressClient(core, cfg.CongressAPIKey, ""),
			Verifier: verify.New(verify.Config{
				APIKey: cfg.OpenAIAPIKey,
				Model:  cfg.ReasoningModel,
			}),
		},
		Activity: sink,
	})

	server := api.NewServer(ctrl, api.Config{
		Addr:               cfg.ListenAddr,
		ControlPassword:    cfg.ControlPassword,
		ProtectRead:        cfg.ProtectReadEndpoints,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		MaxConnections:     cfg.MaxConnections,
		ArtifactsDir:       cfg.ArtifactsDir,
	})

	err = server.Serve(ctx)

	// Stop any active run so subprocesses die before the activity flush.
	if _, stopErr := ctrl.StopRun(); stopErr == nil {
		log.Info().Msg("active run stopped on shutdown")
	}
	return err
}
