package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"clipbot/pkg/bus"
	"clipbot/pkg/channel"
	"clipbot/pkg/fetch"
	"clipbot/pkg/index"
	"clipbot/pkg/logger"
	"clipbot/pkg/media"
	"clipbot/pkg/workspace"
)

const longVideoCaptionPrefix = "Long video detected\nSize: "

// HandleMessage classifies one inbound message and runs the matching flow.
// Failures are logged and reported to the review chat, never returned.
func (s *Service) HandleMessage(ctx context.Context, ev bus.InboundEvent) {
	item := media.NewItem(ev.ChatID, ev.MessageID, ev.Descriptor)
	log := logger.WithRequest(s.log, ev.ID).With("chat_id", ev.ChatID, "message_id", ev.MessageID, "kind", item.Kind)
	log.Info("Message received", "size", media.SizeMB(item.SizeBytes))

	s.publish(ctx, bus.Event{
		Type:      bus.EventMediaReceived,
		ChatID:    ev.ChatID,
		MessageID: ev.MessageID,
		RequestID: ev.ID,
		Payload:   map[string]string{"kind": string(item.Kind)},
	})

	review := s.reviewChat(ev.ChatID)

	switch item.Kind {
	case media.KindVideo, media.KindAnimation:
		s.handleVideo(ctx, log, ev, item, review)
	case media.KindImage:
		s.handleImage(ctx, log, ev, item, review)
	case media.KindSticker:
		s.handleSticker(ctx, log, ev, item, review)
	case media.KindText:
		s.notify(ctx, log, review, "Text message received.")
	default:
		s.notify(ctx, log, review, "Unsupported message received.")
	}
}

func (s *Service) handleVideo(ctx context.Context, log *slog.Logger, ev bus.InboundEvent, item media.Item, review int64) {
	decision := media.EvaluateFetch(item, s.settings.FetchThresholdBytes)
	log.Info("Fetch decision", "fetch", decision.ShouldFetch, "reason", decision.Reason)

	if !decision.ShouldFetch {
		_, err := s.deps.Transport.SendMedia(ctx, review, channel.Media{
			Kind:    sendKind(item),
			File:    item.File,
			Caption: ev.Descriptor.Text,
		}, channel.SendOptions{Buttons: shortVideoButtons(), Streaming: true})
		if err != nil {
			log.Error("Failed to send video for review", "error", err)
			s.notify(ctx, log, review, "Error processing video.")
			return
		}
		s.deleteSource(ctx, log, refOf(item))
		return
	}

	sent, err := s.deps.Transport.SendMedia(ctx, review, channel.Media{
		Kind:    sendKind(item),
		File:    item.File,
		Caption: longVideoCaptionPrefix + media.SizeMB(item.SizeBytes),
	}, channel.SendOptions{Buttons: longVideoButtons(), Streaming: true})
	if err != nil {
		log.Error("Failed to send video for review", "error", err)
		s.notify(ctx, log, review, "Error processing video.")
		return
	}
	s.deleteSource(ctx, log, refOf(item))

	asset, err := s.download(ctx, log, review, item, ev.ID)
	if err != nil {
		return
	}

	s.register(ctx, log, index.Entry{
		ChatID:    sent.ChatID,
		MessageID: sent.MessageID,
		UserID:    ev.SenderID,
		Kind:      item.Kind,
		Text:      ev.Descriptor.Text,
		LocalPath: asset.LocalPath,
		SizeBytes: asset.SizeBytes,
	})

	delivery := s.deliverClips(ctx, log, sent, asset.LocalPath, ev.ID)
	log.Info("Clips delivered", "delivered", delivery.Delivered, "transcoded", delivery.Transcoded, "requested", delivery.Requested)
}

func (s *Service) handleImage(ctx context.Context, log *slog.Logger, ev bus.InboundEvent, item media.Item, review int64) {
	if !s.settings.ImageProcessing {
		s.notify(ctx, log, review, "Image processing is disabled.")
		return
	}

	sent, err := s.deps.Transport.SendMedia(ctx, review, channel.Media{
		Kind:    sendKind(item),
		File:    item.File,
		Caption: "Processing image...",
	}, channel.SendOptions{Buttons: fileButtons()})
	if err != nil {
		log.Error("Failed to send image for review", "error", err)
		s.notify(ctx, log, review, "Error processing image.")
		return
	}
	s.deleteSource(ctx, log, refOf(item))

	asset, err := s.deps.Fetcher.Fetch(ctx, fetch.Request{
		File:       item.File,
		FileName:   item.FileName,
		DefaultExt: fetch.ExtensionFor(item.Kind, item.MimeType),
	})
	if err != nil {
		log.Error("Failed to download image", "error", err)
		s.editCaption(ctx, log, sent, "Error downloading image.", fileButtons())
		return
	}

	s.editCaption(ctx, log, sent, s.caption(ctx, log, asset.LocalPath, ev.Descriptor.Text), fileButtons())

	if s.deps.Images != nil {
		processed, err := s.deps.Images.Process(ctx, asset.LocalPath)
		if err != nil {
			log.Warn("Image processing failed, keeping original", "path", asset.LocalPath, "error", err)
		} else {
			log.Info("Image processed", "width", processed.Width, "height", processed.Height, "resized", processed.Resized)
		}
	}

	s.register(ctx, log, index.Entry{
		ChatID:    sent.ChatID,
		MessageID: sent.MessageID,
		UserID:    ev.SenderID,
		Kind:      item.Kind,
		Text:      ev.Descriptor.Text,
		LocalPath: asset.LocalPath,
		SizeBytes: asset.SizeBytes,
	})
}

// caption describes the image when a describer is configured, falling back
// to the original message text.
func (s *Service) caption(ctx context.Context, log *slog.Logger, path string, original string) string {
	fallback := strings.TrimSpace(original)
	if fallback == "" {
		fallback = "Image saved."
	}
	if s.deps.Describer == nil {
		return fallback
	}

	text, err := s.deps.Describer.Describe(ctx, path)
	if err != nil || strings.TrimSpace(text) == "" {
		log.Warn("Image description unavailable", "error", err)
		return fallback
	}
	return text
}

func (s *Service) handleSticker(ctx context.Context, log *slog.Logger, ev bus.InboundEvent, item media.Item, review int64) {
	asset, err := s.deps.Fetcher.Fetch(ctx, fetch.Request{
		File:       item.File,
		FileName:   item.FileName,
		DefaultExt: ".webp",
	})
	if err != nil {
		log.Error("Failed to download sticker", "error", err)
		s.notify(ctx, log, review, "Error downloading sticker.")
		return
	}

	sent, err := s.deps.Transport.SendMedia(ctx, review, channel.Media{
		Kind:      media.KindSticker,
		LocalPath: asset.LocalPath,
	}, channel.SendOptions{Buttons: fileButtons()})
	if err != nil {
		log.Error("Failed to send sticker for review", "error", err)
		s.notify(ctx, log, review, "Error processing sticker.")
		return
	}
	s.deleteSource(ctx, log, refOf(item))

	s.register(ctx, log, index.Entry{
		ChatID:    sent.ChatID,
		MessageID: sent.MessageID,
		UserID:    ev.SenderID,
		Kind:      item.Kind,
		LocalPath: asset.LocalPath,
		SizeBytes: asset.SizeBytes,
	})
}

// register indexes entry. Paths outside the storage root are never indexed.
func (s *Service) register(ctx context.Context, log *slog.Logger, entry index.Entry) {
	if err := s.deps.Guard.EnsureContained(entry.LocalPath); err != nil {
		log.Error("Refusing to register file", "path", entry.LocalPath, "category", workspace.CategoryFromError(err), "error", err)
		return
	}
	if err := s.deps.Index.Upsert(ctx, entry); err != nil {
		log.Error("Failed to register file", "path", entry.LocalPath, "error", err)
		return
	}
	log.Info("File registered", "indexed_chat_id", entry.ChatID, "indexed_message_id", entry.MessageID, "path", s.deps.Guard.RelPath(entry.LocalPath))
}

func (s *Service) deleteSource(ctx context.Context, log *slog.Logger, ref channel.MessageRef) {
	if err := s.deps.Transport.DeleteMessage(ctx, ref); err != nil {
		log.Warn("Failed to delete source message", "error", err)
	}
}

func (s *Service) editCaption(ctx context.Context, log *slog.Logger, ref channel.MessageRef, caption string, buttons [][]channel.Button) {
	if err := s.deps.Transport.EditCaption(ctx, ref, caption, buttons); err != nil {
		log.Warn("Failed to edit caption", "error", err)
	}
}
