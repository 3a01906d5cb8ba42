// Package cli holds the cobra command tree for the sotu-factcheck binary.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/config"
)

// Version is stamped at build time via -ldflags.
var Version = "0.3.0-dev"

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "sotu-factcheck",
	Short: "Live broadcast fact-check pipeline (prototype)",
	Long: `sotu-factcheck ingests a live broadcast audio stream, transcribes it in
near real time, detects checkable factual claims, researches them against
fact-check archives, FRED economic series, and Congress.gov bill status, and
serves a human-in-the-loop control API for approving on-air output.

Every verdict is advisory. Nothing reaches air without an operator approving
it, and policy gates block export of unverified or stale content.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("sotu-factcheck v" + Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./.env, then $HOME/.sotu-factcheck/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(versionCmd)
}

// loadConfig resolves configuration and applies the logging settings before
// returning, so every component constructed afterwards logs consistently.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	setupLogging(cfg)
	return cfg, nil
}

// setupLogging configures the global zerolog logger from config plus the
// --verbose flag.
func setupLogging(cfg *config.Config) {
	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel)); err == nil && cfg.LogLevel != "" {
		level = parsed
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	format := cfg.LogFormat
	if format == "" || format == "auto" {
		format = "console"
		if fi, err := os.Stderr.Stat(); err == nil && fi.Mode()&os.ModeCharDevice == 0 {
			format = "json"
		}
	}
	if format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}
