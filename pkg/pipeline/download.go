package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"clipbot/pkg/bus"
	"clipbot/pkg/channel"
	"clipbot/pkg/fetch"
	"clipbot/pkg/media"
	"clipbot/pkg/workspace"
)

// download materializes item while a progress message in chatID tracks it.
//
// The progress message is created on start and edited at each milestone. On
// success it is deleted; on failure it is left showing the error.
func (s *Service) download(ctx context.Context, log *slog.Logger, chatID int64, item media.Item, requestID string) (fetch.Asset, error) {
	progress, err := s.deps.Transport.SendText(ctx, chatID, "Downloading... 0%", 0)
	if err != nil {
		log.Warn("Failed to send progress message", "error", err)
	}
	hasProgress := err == nil

	s.publish(ctx, bus.Event{
		Type:      bus.EventFetchStarted,
		ChatID:    item.ChatID,
		MessageID: item.MessageID,
		RequestID: requestID,
		Payload:   map[string]string{"kind": string(item.Kind)},
	})

	req := fetch.Request{
		File:       item.File,
		FileName:   item.FileName,
		DefaultExt: fetch.ExtensionFor(item.Kind, item.MimeType),
	}
	if hasProgress {
		req.Progress = func(percent int, _ int64, _ int64) {
			text := fmt.Sprintf("Downloading... %d%%", percent)
			if err := s.deps.Transport.EditText(ctx, progress, text); err != nil {
				log.Debug("Failed to update progress message", "percent", percent, "error", err)
			}
		}
	}

	asset, err := s.deps.Fetcher.Fetch(ctx, req)
	if err != nil {
		s.publish(ctx, bus.Event{
			Type:      bus.EventFetchFailed,
			ChatID:    item.ChatID,
			MessageID: item.MessageID,
			RequestID: requestID,
			Error:     err.Error(),
		})
		if hasProgress {
			text := "Download failed."
			if workspace.CategoryFromError(err) == workspace.ErrorNoSpace {
				text = "Download failed: storage is full."
			}
			if editErr := s.deps.Transport.EditText(ctx, progress, text); editErr != nil {
				log.Debug("Failed to report download error", "error", editErr)
			}
		}
		return fetch.Asset{}, err
	}

	s.publish(ctx, bus.Event{
		Type:      bus.EventFetchCompleted,
		ChatID:    item.ChatID,
		MessageID: item.MessageID,
		RequestID: requestID,
		Payload:   map[string]string{"size_bytes": strconv.FormatInt(asset.SizeBytes, 10)},
	})
	if hasProgress {
		if err := s.deps.Transport.EditText(ctx, progress, "Download complete."); err != nil {
			log.Debug("Failed to report download completion", "error", err)
		}
		if err := s.deps.Transport.DeleteMessage(ctx, progress); err != nil {
			log.Debug("Failed to delete progress message", "error", err)
		}
	}

	return asset, nil
}

// sendKind is the media type used when item is sent again by reference.
func sendKind(item media.Item) media.Kind {
	if item.Native != "" {
		return item.Native
	}
	return item.Kind
}

func refOf(item media.Item) channel.MessageRef {
	return channel.MessageRef{ChatID: item.ChatID, MessageID: item.MessageID}
}
