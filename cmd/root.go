package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "clipbot",
	Short: "Media review bot that cuts random clips from long videos",
	Long: `clipbot receives media from a chat transport, posts it back for review with
inline buttons, downloads large videos and cuts random clips from them with ffmpeg.`,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
