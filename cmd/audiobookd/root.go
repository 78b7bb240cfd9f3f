package main

import (
	"github.com/spf13/cobra"

	"github.com/openreader/audiobookd/internal/api"
	"github.com/openreader/audiobookd/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "audiobookd",
	Short: "Audiobook generation server for text-to-speech pipelines",
	Long: `Audiobookd assembles audiobooks from synthesized chapter audio.

Upstream TTS systems post raw chapter audio; audiobookd transcodes each
chapter to the book's target format, stores it, and on demand concatenates
the chapters into a single downloadable audiobook file.

The pipeline includes:
  - Per-chapter transcoding (mp3 or chapterized m4b) with tempo adjustment
  - Idempotent chapter storage with gap-aware index allocation
  - Cached full-book assembly, invalidated when chapters change
  - Pluggable storage: filesystem or NATS objects, filesystem or Postgres records`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.audiobookd/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "audiobookd home directory (default: ~/.audiobookd)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}
