package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"clipbot/pkg/bus"
	"clipbot/pkg/channel"
	"clipbot/pkg/channel/telegram"
	"clipbot/pkg/clip"
	"clipbot/pkg/config"
	"clipbot/pkg/describe"
	"clipbot/pkg/fetch"
	"clipbot/pkg/gateway"
	"clipbot/pkg/imageproc"
	"clipbot/pkg/index"
	"clipbot/pkg/logger"
	"clipbot/pkg/media"
	"clipbot/pkg/metrics"
	"clipbot/pkg/pipeline"
	"clipbot/pkg/workspace"

	"github.com/spf13/cobra"
)

const telegramChannelName = "telegram"

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the bot",
	Long:  "Runs clipbot against the enabled channels with health, readiness and metrics endpoints.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		appLogger, err := logger.New(cfg.Logging)
		if err != nil {
			fmt.Printf("failed to initialize logger: %v\n", err)
			return
		}
		slog.SetDefault(appLogger)
		log := slog.Default().With("component", "cmd.gateway")

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := runGateway(runCtx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Gateway runtime failed", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
}

func runGateway(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	adapters, transport, err := enabledAdapters(cfg, log)
	if err != nil {
		return fmt.Errorf("gateway configuration invalid: %w", err)
	}

	guard, err := workspace.NewGuard(cfg.Storage.Root)
	if err != nil {
		return fmt.Errorf("prepare storage root: %w", err)
	}

	store, err := index.Open(ctx, cfg.Storage.IndexPath, cfg.Storage.IndexKey)
	if err != nil {
		return fmt.Errorf("open file index: %w", err)
	}
	defer store.Close()

	fetcher, err := fetch.New(transport, guard, cfg.Fetch.MaxAttempts, log)
	if err != nil {
		return err
	}

	ffmpeg := clip.NewFFmpeg(cfg.Clip.FFmpegPath, cfg.Clip.FFprobePath, time.Duration(cfg.Clip.TimeoutSeconds)*time.Second)
	extractor, err := clip.NewExtractor(ffmpeg, cfg.Clip.MaxConcurrent, log)
	if err != nil {
		return err
	}

	mb := bus.NewMessageBus()
	collector := metrics.New()

	deps := pipeline.Deps{
		Transport: transport,
		Index:     store,
		Fetcher:   fetcher,
		Extractor: extractor,
		Guard:     guard,
		Images:    imageproc.New(cfg.Image.MaxWidth, cfg.Image.MaxHeight, cfg.Image.Quality),
		Events:    mb,
		Log:       log,
	}
	if cfg.Describe.Enabled {
		describer, err := describe.New(cfg.Describe, log)
		if err != nil {
			return fmt.Errorf("configure image descriptions: %w", err)
		}
		deps.Describer = describer
	}

	svc, err := pipeline.NewService(deps, pipelineSettings(cfg))
	if err != nil {
		return fmt.Errorf("initialize pipeline: %w", err)
	}
	svc.Register(mb)

	gw, err := gateway.NewService(cfg.Gateway, mb, adapters, gateway.Options{
		Metrics: collector,
		Checks: []gateway.Check{
			{Name: "index", Run: store.Ping},
			{Name: "ffmpeg", Run: ffmpeg.Available},
		},
	}, log)
	if err != nil {
		return fmt.Errorf("initialize gateway service: %w", err)
	}

	log.Info("Gateway started",
		"channels", enabledChannelNames(adapters),
		"storage_root", guard.Root(),
		"index", store.Path(),
		"fetch_threshold", media.SizeMB(cfg.Fetch.MaxFileSizeBytes()),
		"describe", cfg.Describe.Enabled,
	)
	return gw.Run(ctx)
}

func pipelineSettings(cfg *config.Config) pipeline.Settings {
	return pipeline.Settings{
		ChatMe:              cfg.Chats.Me,
		ChatTarget:          cfg.Chats.Target,
		FetchThresholdBytes: cfg.Fetch.MaxFileSizeBytes(),
		ClipCount:           cfg.Clip.Count,
		ClipDuration:        cfg.Clip.DurationSeconds,
		ImageProcessing:     cfg.Image.ImageProcessingEnabled(),
	}
}

// enabledAdapters builds the configured channels. The first adapter that can
// also send messages becomes the pipeline's transport.
func enabledAdapters(cfg *config.Config, log *slog.Logger) ([]channel.Adapter, channel.Transport, error) {
	adapters := make([]channel.Adapter, 0, 1)

	if cfg.Channels.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(cfg.Channels.Telegram, log)
		if err != nil {
			return nil, nil, fmt.Errorf("configure %s channel: %w", telegramChannelName, err)
		}
		adapters = append(adapters, adapter)
	}

	if len(adapters) == 0 {
		return nil, nil, errors.New("no channels are enabled")
	}

	for _, adapter := range adapters {
		if transport, ok := adapter.(channel.Transport); ok {
			return adapters, transport, nil
		}
	}
	return nil, nil, errors.New("no enabled channel can send messages")
}

func enabledChannelNames(adapters []channel.Adapter) string {
	names := make([]string, 0, len(adapters))
	for _, adapter := range adapters {
		names = append(names, adapter.Name())
	}

	return strings.Join(names, ",")
}
