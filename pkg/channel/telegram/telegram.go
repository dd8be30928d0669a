package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"clipbot/pkg/bus"
	"clipbot/pkg/channel"
	"clipbot/pkg/config"
	"clipbot/pkg/media"

	"github.com/mymmrac/telego"
)

const channelName = "telegram"
const messagePreviewLimit = 240
const downloadTimeout = 30 * time.Minute

// Adapter bridges Telegram updates into bus events and implements
// channel.Transport on top of the same bot.
type Adapter struct {
	cfg        config.TelegramConfig
	bot        *telego.Bot
	httpClient *http.Client
	allowFrom  map[string]struct{}
	log        *slog.Logger
}

// NewAdapter validates Telegram configuration and constructs an adapter instance.
func NewAdapter(cfg config.TelegramConfig, log *slog.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("channels.telegram.token is required")
	}

	if log == nil {
		log = slog.Default()
	}

	options := []telego.BotOption{telego.WithDiscardLogger()}
	if server := strings.TrimSpace(cfg.APIServer); server != "" {
		options = append(options, telego.WithAPIServer(strings.TrimRight(server, "/")))
	}

	bot, err := telego.NewBot(token, options...)
	if err != nil {
		return nil, fmt.Errorf("initialize telegram bot: %w", err)
	}

	return &Adapter{
		cfg:        cfg,
		bot:        bot,
		httpClient: &http.Client{Timeout: downloadTimeout},
		allowFrom:  allowFromSet(cfg.AllowFrom),
		log:        log.With("component", "channel.telegram"),
	}, nil
}

// Name returns the channel identifier used in bus events and logs.
func (a *Adapter) Name() string {
	return channelName
}

// Run starts Telegram long polling and forwards normalized events to handler.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	updates, err := a.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	a.log.Info("Telegram channel started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil
				}
				return errors.New("telegram updates channel closed")
			}

			event, ok := a.eventFromUpdate(update)
			if !ok {
				continue
			}

			a.log.Info("Received update",
				"kind", event.Kind,
				"chat_id", event.ChatID,
				"message_id", event.MessageID,
				"sender_id", event.SenderID,
				"content", previewText(firstNonEmpty(event.Descriptor.Text, event.CallbackData, event.Command)),
			)
			handler(ctx, event)
		}
	}
}

// eventFromUpdate normalizes one update. Updates without a usable message,
// and updates from senders outside allow_from, are dropped.
func (a *Adapter) eventFromUpdate(update telego.Update) (bus.InboundEvent, bool) {
	if query := update.CallbackQuery; query != nil {
		senderID := strconv.FormatInt(query.From.ID, 10)
		if !a.senderAllowed(senderID) {
			a.log.Debug("Ignoring callback from unauthorized sender", "sender_id", senderID)
			return bus.InboundEvent{}, false
		}
		if query.Message == nil {
			a.log.Debug("Ignoring callback without message", "callback_id", query.ID)
			return bus.InboundEvent{}, false
		}

		event := bus.InboundEvent{
			ID:           bus.NewEventID(),
			Kind:         bus.KindCallback,
			Channel:      channelName,
			ChatID:       query.Message.GetChat().ID,
			MessageID:    query.Message.GetMessageID(),
			SenderID:     query.From.ID,
			CallbackID:   query.ID,
			CallbackData: strings.TrimSpace(query.Data),
		}
		// The pressed message still carries its media, so actions can
		// re-send or download it.
		if message, ok := query.Message.(*telego.Message); ok {
			event.Descriptor = descriptorFor(message)
		}
		return event, true
	}

	message := update.Message
	if message == nil {
		return bus.InboundEvent{}, false
	}
	if message.From == nil {
		a.log.Debug("Ignoring message without sender")
		return bus.InboundEvent{}, false
	}

	senderID := strconv.FormatInt(message.From.ID, 10)
	if !a.senderAllowed(senderID) {
		a.log.Debug("Ignoring message from unauthorized sender", "sender_id", senderID)
		return bus.InboundEvent{}, false
	}

	event := bus.InboundEvent{
		ID:        bus.NewEventID(),
		Kind:      bus.KindMessage,
		Channel:   channelName,
		ChatID:    message.Chat.ID,
		MessageID: message.MessageID,
		SenderID:  message.From.ID,
	}

	if command, args, ok := parseCommand(message.Text); ok {
		event.Kind = bus.KindCommand
		event.Command = command
		event.Args = args
		return event, true
	}

	event.Descriptor = descriptorFor(message)
	return event, true
}

// descriptorFor builds the tagged media descriptor for one message.
func descriptorFor(message *telego.Message) media.Descriptor {
	desc := media.Descriptor{Text: strings.TrimSpace(firstNonEmpty(message.Text, message.Caption))}

	switch {
	case len(message.Photo) > 0:
		largest := message.Photo[len(message.Photo)-1]
		desc.Attachment = media.AttachmentPhoto
		desc.MimeType = "image/jpeg"
		desc.Native = media.KindImage
		desc.SizeBytes = int64(largest.FileSize)
		desc.File = media.FileRef{ID: largest.FileID, SizeBytes: desc.SizeBytes}
	case message.Video != nil:
		desc.Attachment = media.AttachmentDocument
		desc.MimeType = firstNonEmpty(message.Video.MimeType, "video/mp4")
		desc.Native = media.KindVideo
		desc.FileName = message.Video.FileName
		desc.SizeBytes = int64(message.Video.FileSize)
		desc.File = media.FileRef{ID: message.Video.FileID, SizeBytes: desc.SizeBytes}
	case message.Animation != nil:
		desc.Attachment = media.AttachmentDocument
		desc.MimeType = firstNonEmpty(message.Animation.MimeType, "video/mp4")
		desc.Native = media.KindAnimation
		desc.FileName = message.Animation.FileName
		desc.SizeBytes = int64(message.Animation.FileSize)
		desc.File = media.FileRef{ID: message.Animation.FileID, SizeBytes: desc.SizeBytes}
	case message.Sticker != nil:
		// The Bot API reports no mime type for stickers.
		desc.Attachment = media.AttachmentDocument
		desc.StickerSet = true
		desc.Native = media.KindSticker
		desc.FileName = stickerFileName(message.Sticker)
		desc.SizeBytes = int64(message.Sticker.FileSize)
		desc.File = media.FileRef{ID: message.Sticker.FileID, SizeBytes: desc.SizeBytes}
	case message.Document != nil:
		desc.Attachment = media.AttachmentDocument
		desc.MimeType = message.Document.MimeType
		desc.Native = media.KindDocument
		desc.FileName = message.Document.FileName
		desc.SizeBytes = int64(message.Document.FileSize)
		desc.File = media.FileRef{ID: message.Document.FileID, SizeBytes: desc.SizeBytes}
	case hasLink(message.Entities):
		desc.Attachment = media.AttachmentWebPage
	}

	return desc
}

func stickerFileName(sticker *telego.Sticker) string {
	ext := ".webp"
	switch {
	case sticker.IsAnimated:
		ext = ".tgs"
	case sticker.IsVideo:
		ext = ".webm"
	}
	return "sticker_" + sticker.FileUniqueID + ext
}

func hasLink(entities []telego.MessageEntity) bool {
	for _, entity := range entities {
		if entity.Type == "url" || entity.Type == "text_link" {
			return true
		}
	}
	return false
}

// parseCommand splits "/name@bot args" into its lowercase name and trimmed args.
func parseCommand(text string) (string, string, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") || len(trimmed) < 2 {
		return "", "", false
	}

	head, args, _ := strings.Cut(trimmed[1:], " ")
	name, _, _ := strings.Cut(head, "@")
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "", "", false
	}

	return name, strings.TrimSpace(args), true
}

// senderAllowed checks whether a sender is permitted by allow_from config.
//
// When no allow list is configured, all senders are accepted.
func (a *Adapter) senderAllowed(senderID string) bool {
	if len(a.allowFrom) == 0 {
		return true
	}

	_, ok := a.allowFrom[strings.TrimSpace(senderID)]
	return ok
}

// allowFromSet normalizes allow_from values into a lookup set.
func allowFromSet(allowFrom []string) map[string]struct{} {
	if len(allowFrom) == 0 {
		return nil
	}

	allowed := make(map[string]struct{}, len(allowFrom))
	for _, value := range allowFrom {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}

	if len(allowed) == 0 {
		return nil
	}

	return allowed
}

// previewText returns a bounded log-safe preview of message text.
func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	return trimmed[:messagePreviewLimit] + "..."
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
