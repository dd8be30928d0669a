package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"clipbot/pkg/bus"
	"clipbot/pkg/channel"
	"clipbot/pkg/index"
	"clipbot/pkg/logger"
	"clipbot/pkg/media"
	"clipbot/pkg/workspace"
)

const (
	ackSent          = "Sent to target chat."
	ackDiscarded     = "Discarded."
	ackFileDeleted   = "File deleted."
	ackNotAvailable  = "File not available."
	ackUnknown       = "Unknown action."
	ackInProgress    = "Already in progress."
	ackNoTarget      = "Target chat is not configured."
	ackSendFailed    = "Error sending to target chat."
	ackDeleteFailed  = "Error deleting file."
	ackDownloadError = "Download failed."
)

// CallbackEvent is one button press on a message sent by the bot.
type CallbackEvent struct {
	CallbackID string
	Ref        channel.MessageRef
	Data       string
	// Descriptor describes the media attached to Ref, when any.
	Descriptor media.Descriptor
	SenderID   int64
	RequestID  string
}

type actionFunc func(ctx context.Context, log *slog.Logger, ev CallbackEvent) string

type actionSpec struct {
	run actionFunc
	// pending, when set, is acknowledged before run starts; the final result
	// is then posted as a reply instead of the acknowledgement.
	pending string
}

// Dispatcher interprets callback tokens through a fixed action table.
type Dispatcher struct {
	svc     *Service
	actions map[Action]actionSpec

	mu       sync.Mutex
	inflight map[channel.MessageRef]struct{}
}

func newDispatcher(svc *Service) *Dispatcher {
	d := &Dispatcher{
		svc:      svc,
		inflight: make(map[channel.MessageRef]struct{}),
	}
	d.actions = map[Action]actionSpec{
		ActionSendToTarget:    {run: d.sendToTarget},
		ActionDiscard:         {run: d.discard},
		ActionDeleteFile:      {run: d.deleteFile},
		ActionRegenerateClips: {run: d.regenerateClips, pending: "Creating clips..."},
		ActionDownloadAndClip: {run: d.downloadAndClip, pending: "Downloading..."},
		ActionUnknown:         {run: d.unknown},
	}
	return d
}

// HandleCallback adapts a bus callback event to Dispatch.
func (s *Service) HandleCallback(ctx context.Context, ev bus.InboundEvent) {
	s.dispatcher.Dispatch(ctx, CallbackEvent{
		CallbackID: ev.CallbackID,
		Ref:        channel.MessageRef{ChatID: ev.ChatID, MessageID: ev.MessageID},
		Data:       ev.CallbackData,
		Descriptor: ev.Descriptor,
		SenderID:   ev.SenderID,
		RequestID:  ev.ID,
	})
}

// Dispatch runs the action named by ev.Data and returns the text reported
// back to the user. Every failure ends up in that text.
func (d *Dispatcher) Dispatch(ctx context.Context, ev CallbackEvent) string {
	action := ParseAction(ev.Data)
	log := logger.WithRequest(d.svc.log, ev.RequestID).With(
		"action", action,
		"chat_id", ev.Ref.ChatID,
		"message_id", ev.Ref.MessageID,
	)
	if action == ActionUnknown {
		log = log.With("data", ev.Data)
	}
	log.Info("Callback received")

	if !d.acquire(ev.Ref) {
		log.Info("Callback ignored, message already being processed")
		d.answer(ctx, log, ev.CallbackID, ackInProgress)
		return ackInProgress
	}
	defer d.release(ev.Ref)

	spec := d.actions[action]
	if spec.pending != "" {
		d.answer(ctx, log, ev.CallbackID, spec.pending)
	}

	result := spec.run(ctx, log, ev)

	if spec.pending != "" {
		if _, err := d.svc.deps.Transport.SendText(ctx, ev.Ref.ChatID, result, ev.Ref.MessageID); err != nil {
			log.Warn("Failed to report callback result", "error", err)
		}
	} else {
		d.answer(ctx, log, ev.CallbackID, result)
	}

	d.svc.publish(ctx, bus.Event{
		Type:      bus.EventCallbackHandled,
		ChatID:    ev.Ref.ChatID,
		MessageID: ev.Ref.MessageID,
		RequestID: ev.RequestID,
		Payload:   map[string]string{"action": string(action), "result": result},
	})
	log.Info("Callback handled", "result", result)

	return result
}

func (d *Dispatcher) acquire(ref channel.MessageRef) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, busy := d.inflight[ref]; busy {
		return false
	}
	d.inflight[ref] = struct{}{}
	return true
}

func (d *Dispatcher) release(ref channel.MessageRef) {
	d.mu.Lock()
	delete(d.inflight, ref)
	d.mu.Unlock()
}

func (d *Dispatcher) answer(ctx context.Context, log *slog.Logger, callbackID string, text string) {
	if callbackID == "" {
		return
	}
	if err := d.svc.deps.Transport.AnswerCallback(ctx, callbackID, text); err != nil {
		log.Warn("Failed to answer callback", "error", err)
	}
}

func (d *Dispatcher) sendToTarget(ctx context.Context, log *slog.Logger, ev CallbackEvent) string {
	target := d.svc.settings.ChatTarget
	if target == 0 {
		return ackNoTarget
	}

	payload, ok := d.payloadFor(ctx, log, ev)
	if !ok {
		return ackNotAvailable
	}

	if _, err := d.svc.deps.Transport.SendMedia(ctx, target, payload, channel.SendOptions{
		Spoiler:   true,
		Streaming: true,
	}); err != nil {
		log.Error("Failed to send to target", "target_chat_id", target, "error", err)
		return ackSendFailed
	}

	if err := d.svc.deps.Transport.DeleteMessage(ctx, ev.Ref); err != nil {
		log.Warn("Failed to delete forwarded message", "error", err)
	}
	return ackSent
}

// payloadFor prefers the hosted file attached to the pressed message and
// falls back to the indexed local copy.
func (d *Dispatcher) payloadFor(ctx context.Context, log *slog.Logger, ev CallbackEvent) (channel.Media, bool) {
	item := media.NewItem(ev.Ref.ChatID, ev.Ref.MessageID, ev.Descriptor)
	if !item.File.IsZero() {
		return channel.Media{Kind: sendKind(item), File: item.File}, true
	}

	entry, ok := d.lookup(ctx, log, ev.Ref)
	if !ok || !d.svc.deps.Guard.Exists(entry.LocalPath) {
		return channel.Media{}, false
	}
	return channel.Media{Kind: entry.Kind, LocalPath: entry.LocalPath}, true
}

func (d *Dispatcher) discard(ctx context.Context, log *slog.Logger, ev CallbackEvent) string {
	if err := d.svc.deps.Transport.DeleteMessage(ctx, ev.Ref); err != nil {
		log.Warn("Failed to delete discarded message", "error", err)
	}
	return ackDiscarded
}

func (d *Dispatcher) deleteFile(ctx context.Context, log *slog.Logger, ev CallbackEvent) string {
	result := ackNotAvailable

	if entry, ok := d.lookup(ctx, log, ev.Ref); ok {
		err := d.svc.deps.Guard.Remove(entry.LocalPath)
		switch {
		case workspace.IsNotFound(err):
			log.Info("File already gone, dropping index entry", "path", entry.LocalPath)
			if _, err := d.svc.deps.Index.Delete(ctx, ev.Ref.ChatID, ev.Ref.MessageID); err != nil {
				log.Warn("Failed to drop index entry", "error", err)
			}
		case err != nil:
			log.Error("Failed to delete file", "path", entry.LocalPath, "category", workspace.CategoryFromError(err), "error", err)
			result = ackDeleteFailed
		default:
			log.Info("File deleted", "path", d.svc.deps.Guard.RelPath(entry.LocalPath))
			result = ackFileDeleted
			if _, err := d.svc.deps.Index.Delete(ctx, ev.Ref.ChatID, ev.Ref.MessageID); err != nil {
				log.Warn("Failed to drop index entry", "error", err)
			}
		}
	}

	if err := d.svc.deps.Transport.DeleteMessage(ctx, ev.Ref); err != nil {
		log.Warn("Failed to delete message", "error", err)
	}
	return result
}

func (d *Dispatcher) regenerateClips(ctx context.Context, log *slog.Logger, ev CallbackEvent) string {
	entry, ok := d.lookup(ctx, log, ev.Ref)
	if !ok || !d.svc.deps.Guard.Exists(entry.LocalPath) {
		return ackNotAvailable
	}

	return clipSummary(d.svc.deliverClips(ctx, log, ev.Ref, entry.LocalPath, ev.RequestID))
}

func (d *Dispatcher) downloadAndClip(ctx context.Context, log *slog.Logger, ev CallbackEvent) string {
	item := media.NewItem(ev.Ref.ChatID, ev.Ref.MessageID, ev.Descriptor)
	if item.File.IsZero() {
		return ackNotAvailable
	}
	if item.Kind != media.KindVideo && item.Kind != media.KindAnimation {
		item.Kind = media.KindVideo
	}

	asset, err := d.svc.download(ctx, log, ev.Ref.ChatID, item, ev.RequestID)
	if err != nil {
		return ackDownloadError
	}

	d.svc.register(ctx, log, index.Entry{
		ChatID:    ev.Ref.ChatID,
		MessageID: ev.Ref.MessageID,
		UserID:    ev.SenderID,
		Kind:      item.Kind,
		LocalPath: asset.LocalPath,
		SizeBytes: asset.SizeBytes,
	})
	d.svc.editCaption(ctx, log, ev.Ref, longVideoCaptionPrefix+media.SizeMB(asset.SizeBytes), longVideoButtons())

	return clipSummary(d.svc.deliverClips(ctx, log, ev.Ref, asset.LocalPath, ev.RequestID))
}

func (d *Dispatcher) unknown(context.Context, *slog.Logger, CallbackEvent) string {
	return ackUnknown
}

// lookup treats index errors like a miss; they are logged, never surfaced.
func (d *Dispatcher) lookup(ctx context.Context, log *slog.Logger, ref channel.MessageRef) (index.Entry, bool) {
	entry, ok, err := d.svc.deps.Index.Lookup(ctx, ref.ChatID, ref.MessageID)
	if err != nil {
		log.Error("File index lookup failed", "error", err)
		return index.Entry{}, false
	}
	if !ok {
		log.Info("No file registered for message")
	}
	return entry, ok
}
