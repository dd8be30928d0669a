package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clipbot/pkg/clip"
	"clipbot/pkg/config"
	"clipbot/pkg/logger"
	"clipbot/pkg/ui/cliprun"

	"github.com/spf13/cobra"
)

var (
	clipCount    int
	clipDuration int
	clipPlain    bool
)

var clipCmd = &cobra.Command{
	Use:   "clip <video>",
	Short: "Cut random clips from a local video",
	Long:  "Cuts random clips from a local video with the configured ffmpeg, writing them next to the source as <name>_clip_NN.<ext>.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		source := args[0]
		if info, err := os.Stat(source); err != nil || info.IsDir() {
			fmt.Printf("not a video file: %s\n", source)
			return
		}

		clipCfg := localClipConfig()
		spec := clip.Spec{
			SourcePath: source,
			Count:      firstPositive(clipCount, clipCfg.Count, clip.DefaultCount),
			Duration:   firstPositive(clipDuration, clipCfg.DurationSeconds, clip.DefaultDuration),
		}

		// Logs would tear the interactive screen.
		log := logger.Discard()
		if clipPlain {
			log = slog.Default()
		}

		ffmpeg := clip.NewFFmpeg(clipCfg.FFmpegPath, clipCfg.FFprobePath, time.Duration(clipCfg.TimeoutSeconds)*time.Second)
		extractor, err := clip.NewExtractor(ffmpeg, 1, log)
		if err != nil {
			fmt.Printf("failed to initialize clip extractor: %v\n", err)
			return
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		extract := func(ctx context.Context) (clip.Result, error) {
			return extractor.Extract(ctx, spec)
		}

		if clipPlain {
			result, err := extract(ctx)
			printClipResult(result, err)
			return
		}

		if _, err := cliprun.Run(ctx, cliprun.Job{SourcePath: spec.SourcePath, Count: spec.Count, Duration: spec.Duration}, extract); err != nil {
			fmt.Printf("clip screen failed: %v\n", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(clipCmd)
	clipCmd.Flags().IntVarP(&clipCount, "count", "n", 0, "number of clips (default from config, else 3)")
	clipCmd.Flags().IntVarP(&clipDuration, "duration", "d", 0, "clip length in seconds (default from config, else 10)")
	clipCmd.Flags().BoolVar(&clipPlain, "plain", false, "print results instead of the interactive screen")
}

// localClipConfig reads clip settings from config.json when one is present.
func localClipConfig() config.ClipConfig {
	cfg, err := config.LoadConfig()
	if err != nil {
		return config.ClipConfig{}
	}
	return cfg.Clip
}

func printClipResult(result clip.Result, err error) {
	if err != nil {
		fmt.Printf("clip extraction failed: %v\n", err)
		return
	}

	for _, path := range result.Paths {
		fmt.Println(path)
	}
	for _, failure := range result.Failures {
		fmt.Printf("clip %d failed: %v\n", failure.Index+1, failure.Err)
	}
	fmt.Printf("%d of %d clips created\n", result.SuccessCount, result.Requested)
}

func firstPositive(values ...int) int {
	for _, value := range values {
		if value > 0 {
			return value
		}
	}
	return 0
}
