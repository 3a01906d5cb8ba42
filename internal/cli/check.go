package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/cache"
	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/config"
	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/detect"
	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/model"
	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/providers"
	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/verify"
)

var (
	checkDetectOnly bool
	checkTimeout    time.Duration
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check [text]",
	Short: "Score and research a single claim offline",
	Long: `Run one piece of text through the detection scorer and, unless
--detect-only is set, through the full evidence chain: fact-check archive
search, the category provider (FRED or Congress.gov), and the AI verifier.

Useful for tuning the detection threshold and for smoke-testing provider
credentials without starting a run.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runCheck(cfg, strings.Join(args, " "))
	},
}

func init() {
	checkCmd.Flags().BoolVar(&checkDetectOnly, "detect-only", false, "score detection only, skip provider research")
	checkCmd.Flags().DurationVar(&checkTimeout, "timeout", 60*time.Second, "overall research timeout")
	rootCmd.AddCommand(checkCmd)
}

// checkReport is the YAML shape printed per candidate.
type checkReport struct {
	Text           string                 `yaml:"text"`
	Score          float64                `yaml:"score"`
	Reasons        []string               `yaml:"reasons"`
	Category       model.ClaimCategory    `yaml:"category"`
	TypeTag        model.ClaimTypeTag     `yaml:"typeTag"`
	TypeConfidence float64                `yaml:"typeConfidence"`
	FactCheck      *model.ProviderFinding `yaml:"factCheck,omitempty"`
	Provider       *model.ProviderFinding `yaml:"provider,omitempty"`
	Verdict        model.Verdict          `yaml:"verdict,omitempty"`
	Confidence     float64                `yaml:"confidence,omitempty"`
	Summary        string                 `yaml:"summary,omitempty"`
}

func runCheck(cfg *config.Config, text string) error {
	detector := detect.NewDetector()
	candidates := detector.Detect(text, detect.Options{Threshold: cfg.DetectionThreshold})
	if len(candidates) == 0 {
		fmt.Printf("no candidates above threshold %.2f\n", cfg.DetectionThreshold)
		return nil
	}

	var core *providers.Core
	var verifier *verify.Client
	if !checkDetectOnly {
		core = providers.NewCore(providers.CoreConfig{
			Cache:      cache.NewMemoryCache(10*time.Minute, 5*time.Minute),
			HTTPProxy:  cfg.HTTPProxy,
			HTTPSProxy: cfg.HTTPSProxy,
		})
		verifier = verify.New(verify.Config{APIKey: cfg.OpenAIAPIKey, Model: cfg.ReasoningModel})
	}

	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()

	enc := yaml.NewEncoder(os.Stdout)
	defer enc.Close()

	for _, cand := range candidates {
		rep := checkReport{
			Text:           cand.Text,
			Score:          cand.Score,
			Reasons:        cand.Reasons,
			Category:       cand.Category,
			TypeTag:        cand.TypeTag,
			TypeConfidence: cand.TypeConfidence,
		}
		if !checkDetectOnly {
			researchCandidate(ctx, cfg, core, verifier, cand, &rep)
		}
		if err := enc.Encode(rep); err != nil {
			return err
		}
	}
	return nil
}

// researchCandidate fills the report in place; provider failures degrade to
// partial output rather than aborting the command.
func researchCandidate(ctx context.Context, cfg *config.Config, core *providers.Core, verifier *verify.Client, cand detect.Candidate, rep *checkReport) {
	fc := providers.NewFactCheckClient(core, cfg.FactCheckAPIKey, "")
	fcRes, err := fc.Search(ctx, cand.Text)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fact-check search failed: %v\n", err)
	} else {
		finding := fcRes.Finding()
		rep.FactCheck = &finding
	}

	var provider model.ProviderFinding
	switch cand.Category {
	case model.CategoryEconomic:
		provider, err = providers.NewFredClient(core, cfg.FredAPIKey, "").Lookup(ctx, cand.Text)
	case model.CategoryPolitical:
		provider, err = providers.NewCongressClient(core, cfg.CongressAPIKey, "").Lookup(ctx, cand.Text)
	default:
		provider = model.ProviderFinding{State: model.EvidenceNotApplicable}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "provider lookup failed: %v\n", err)
	} else {
		rep.Provider = &provider
	}

	req := verify.Request{ClaimText: cand.Text}
	if rep.FactCheck != nil {
		req.GoogleVerdict = fcRes.Verdict
		req.GoogleFinding = *rep.FactCheck
	}
	switch cand.Category {
	case model.CategoryEconomic:
		req.FredFinding = provider
	case model.CategoryPolitical:
		req.CongressFinding = provider
	}
	res, err := verifier.Assess(ctx, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "verifier failed: %v\n", err)
		res = verify.Fallback()
	}
	rep.Verdict = res.AiVerdict
	rep.Confidence = res.AiConfidence
	rep.Summary = res.AiSummary
}
