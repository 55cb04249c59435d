package cmd

import (
	"github.com/nijaru/yt-script/config"
	"github.com/spf13/cobra"
)

var (
	logLevel  string
	poolsFile string
)

var rootCmd = &cobra.Command{
	Use:   "yt-script",
	Short: "Turn YouTube videos into narrated scripts with Gemini",
	Long: `yt-script analyzes a YouTube video segment by segment with the Gemini API,
aggregates the transcripts and rewrites them into a narrated script.
It runs as an HTTP service or as one-shot commands.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "",
		"Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&poolsFile, "pools", "",
		"YAML file seeding API keys and proxies (overrides POOLS_FILE)")
}

// loadConfig reads the environment and applies the persistent flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if poolsFile != "" {
		cfg.Pools.SeedFile = poolsFile
	}
	return cfg, nil
}
