package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"clipbot/pkg/bus"
	"clipbot/pkg/channel"
	"clipbot/pkg/clip"
	"clipbot/pkg/media"
)

// clipDelivery counts clips that reached the chat, not just the ones cut.
type clipDelivery struct {
	Requested  int
	Transcoded int
	Delivered  int
}

// deliverClips cuts random clips from sourcePath and sends each one as a
// reply to parent. Produced clip files are always removed afterwards.
func (s *Service) deliverClips(ctx context.Context, log *slog.Logger, parent channel.MessageRef, sourcePath string, requestID string) clipDelivery {
	spec := clip.Spec{
		SourcePath: sourcePath,
		Duration:   s.settings.ClipDuration,
		Count:      s.settings.ClipCount,
		Tag:        clip.NewTag(),
	}

	result, err := s.deps.Extractor.Extract(ctx, spec)
	defer func() {
		if _, failed := clip.Cleanup(result.Paths); len(failed) > 0 {
			log.Warn("Failed to remove clip files", "paths", failed)
		}
	}()
	if err != nil {
		log.Error("Clip extraction aborted", "path", sourcePath, "error", err)
		s.publish(ctx, bus.Event{
			Type:      bus.EventClipFailed,
			ChatID:    parent.ChatID,
			MessageID: parent.MessageID,
			RequestID: requestID,
			Error:     err.Error(),
		})
		return clipDelivery{Requested: spec.Count}
	}

	for _, failure := range result.Failures {
		s.publish(ctx, bus.Event{
			Type:      bus.EventClipFailed,
			ChatID:    parent.ChatID,
			MessageID: parent.MessageID,
			RequestID: requestID,
			Payload:   map[string]string{"clip": strconv.Itoa(failure.Index + 1)},
			Error:     failure.Err.Error(),
		})
	}

	delivery := clipDelivery{Requested: result.Requested, Transcoded: result.SuccessCount}
	total := len(result.Paths)
	for i, path := range result.Paths {
		if s.sendClip(ctx, log, parent, path, i+1, total, requestID) {
			delivery.Delivered++
		}
	}

	return delivery
}

// sendClip uploads one clip and reports whether it was delivered.
func (s *Service) sendClip(ctx context.Context, log *slog.Logger, parent channel.MessageRef, path string, n int, total int, requestID string) bool {
	status, statusErr := s.deps.Transport.SendText(ctx, parent.ChatID, fmt.Sprintf("Creating clip %d/%d...", n, total), parent.MessageID)
	if statusErr != nil {
		log.Debug("Failed to send clip status", "clip", n, "error", statusErr)
	}

	_, err := s.deps.Transport.SendMedia(ctx, parent.ChatID, channel.Media{
		Kind:      media.KindVideo,
		LocalPath: path,
	}, channel.SendOptions{
		Buttons:   clipButtons(),
		ReplyTo:   parent.MessageID,
		Streaming: true,
	})

	text := fmt.Sprintf("Clip %d/%d created and sent.", n, total)
	if err != nil {
		log.Error("Failed to send clip", "clip", n, "path", path, "error", err)
		text = fmt.Sprintf("Error sending clip %d/%d.", n, total)
		s.publish(ctx, bus.Event{
			Type:      bus.EventClipFailed,
			ChatID:    parent.ChatID,
			MessageID: parent.MessageID,
			RequestID: requestID,
			Payload:   map[string]string{"clip": strconv.Itoa(n)},
			Error:     err.Error(),
		})
	} else {
		s.publish(ctx, bus.Event{
			Type:      bus.EventClipCreated,
			ChatID:    parent.ChatID,
			MessageID: parent.MessageID,
			RequestID: requestID,
			Payload:   map[string]string{"clip": strconv.Itoa(n)},
		})
	}

	if statusErr == nil {
		if err := s.deps.Transport.EditText(ctx, status, text); err != nil {
			log.Debug("Failed to update clip status", "clip", n, "error", err)
		}
	}
	return err == nil
}

func clipSummary(d clipDelivery) string {
	return fmt.Sprintf("%d of %d clips created", d.Delivered, d.Requested)
}
