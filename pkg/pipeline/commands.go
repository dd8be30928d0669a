package pipeline

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"clipbot/pkg/bus"
	"clipbot/pkg/logger"
	"clipbot/pkg/media"
)

type commandFunc func(ctx context.Context, ev bus.InboundEvent) string

const helpText = `Send a video, image or sticker and it is posted back for review with buttons.

Videos above the size limit are downloaded and cut into random clips.

Commands:
/start - check the bot is running
/ping - liveness check
/status - runtime settings
/stats - indexed files per kind
/id - show chat and user ids
/help - this message`

func (s *Service) commandTable() map[string]commandFunc {
	return map[string]commandFunc{
		"start":  s.cmdStart,
		"ping":   s.cmdPing,
		"help":   s.cmdHelp,
		"status": s.cmdStatus,
		"stats":  s.cmdStats,
		"id":     s.cmdID,
	}
}

// HandleCommand answers one slash command in the chat it came from.
func (s *Service) HandleCommand(ctx context.Context, ev bus.InboundEvent) {
	log := logger.WithRequest(s.log, ev.ID).With("chat_id", ev.ChatID, "command", ev.Command)

	reply := "Unknown command. Send /help for the list."
	if cmd, ok := s.commands[strings.ToLower(ev.Command)]; ok {
		reply = cmd(ctx, ev)
	}

	if _, err := s.deps.Transport.SendText(ctx, ev.ChatID, reply, ev.MessageID); err != nil {
		log.Warn("Failed to reply to command", "error", err)
	}
}

func (s *Service) cmdStart(context.Context, bus.InboundEvent) string {
	return "clipbot is running. Send a video, image or sticker to process it."
}

func (s *Service) cmdPing(context.Context, bus.InboundEvent) string {
	return "pong"
}

func (s *Service) cmdHelp(context.Context, bus.InboundEvent) string {
	return helpText
}

func (s *Service) cmdStatus(context.Context, bus.InboundEvent) string {
	target := "not configured"
	if s.settings.ChatTarget != 0 {
		target = fmt.Sprintf("%d", s.settings.ChatTarget)
	}
	images := "disabled"
	if s.settings.ImageProcessing {
		images = "enabled"
	}

	lines := []string{
		"Uptime: " + time.Since(s.startedAt).Truncate(time.Second).String(),
		"Storage: " + s.deps.Guard.Root(),
		"Download threshold: " + media.SizeMB(s.settings.FetchThresholdBytes),
		fmt.Sprintf("Clips: %d x %ds", s.settings.ClipCount, s.settings.ClipDuration),
		"Image processing: " + images,
		"Target chat: " + target,
	}
	return strings.Join(lines, "\n")
}

func (s *Service) cmdStats(ctx context.Context, ev bus.InboundEvent) string {
	stats, err := s.deps.Index.Stats(ctx)
	if err != nil {
		logger.WithRequest(s.log, ev.ID).Error("Failed to read index stats", "error", err)
		return "Error reading file index."
	}

	lines := []string{fmt.Sprintf("Indexed files: %d", stats.Total)}
	kinds := make([]string, 0, len(stats.ByKind))
	for kind := range stats.ByKind {
		kinds = append(kinds, string(kind))
	}
	slices.Sort(kinds)
	for _, kind := range kinds {
		lines = append(lines, fmt.Sprintf("%s: %d", kind, stats.ByKind[media.Kind(kind)]))
	}
	return strings.Join(lines, "\n")
}

func (s *Service) cmdID(_ context.Context, ev bus.InboundEvent) string {
	return fmt.Sprintf("Chat ID: %d\nUser ID: %d", ev.ChatID, ev.SenderID)
}
