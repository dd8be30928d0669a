package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"clipbot/pkg/channel"
	"clipbot/pkg/media"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// sendAttempts bounds how often one outbound call is replayed after a 429.
const sendAttempts = 3

var _ channel.Transport = (*Adapter)(nil)

func (a *Adapter) SendMedia(ctx context.Context, chatID int64, payload channel.Media, opts channel.SendOptions) (channel.MessageRef, error) {
	var sent *telego.Message
	err := a.retrying(ctx, "send "+string(payload.Kind), func() error {
		file, closeFile, err := inputFile(payload)
		if err != nil {
			return err
		}
		defer closeFile()

		sent, err = a.sendInputFile(ctx, chatID, payload, file, opts)
		return err
	})
	if err != nil {
		return channel.MessageRef{}, err
	}

	return messageRef(sent), nil
}

func (a *Adapter) sendInputFile(ctx context.Context, chatID int64, payload channel.Media, file telego.InputFile, opts channel.SendOptions) (*telego.Message, error) {
	target := tu.ID(chatID)
	markup := inlineKeyboard(opts.Buttons)
	reply := replyParameters(opts.ReplyTo)

	switch payload.Kind {
	case media.KindVideo:
		params := tu.Video(target, file)
		params.Caption = payload.Caption
		params.HasSpoiler = opts.Spoiler
		params.SupportsStreaming = opts.Streaming
		params.ReplyParameters = reply
		if markup != nil {
			params.ReplyMarkup = markup
		}
		return a.bot.SendVideo(ctx, params)
	case media.KindAnimation:
		params := tu.Animation(target, file)
		params.Caption = payload.Caption
		params.HasSpoiler = opts.Spoiler
		params.ReplyParameters = reply
		if markup != nil {
			params.ReplyMarkup = markup
		}
		return a.bot.SendAnimation(ctx, params)
	case media.KindImage:
		params := tu.Photo(target, file)
		params.Caption = payload.Caption
		params.HasSpoiler = opts.Spoiler
		params.ReplyParameters = reply
		if markup != nil {
			params.ReplyMarkup = markup
		}
		return a.bot.SendPhoto(ctx, params)
	case media.KindSticker:
		params := tu.Sticker(target, file)
		params.ReplyParameters = reply
		if markup != nil {
			params.ReplyMarkup = markup
		}
		return a.bot.SendSticker(ctx, params)
	default:
		params := tu.Document(target, file)
		params.Caption = payload.Caption
		params.ReplyParameters = reply
		if markup != nil {
			params.ReplyMarkup = markup
		}
		return a.bot.SendDocument(ctx, params)
	}
}

func (a *Adapter) SendText(ctx context.Context, chatID int64, text string, replyTo int) (channel.MessageRef, error) {
	var sent *telego.Message
	err := a.retrying(ctx, "send message", func() error {
		params := tu.Message(tu.ID(chatID), text)
		params.ReplyParameters = replyParameters(replyTo)

		var err error
		sent, err = a.bot.SendMessage(ctx, params)
		return err
	})
	if err != nil {
		return channel.MessageRef{}, err
	}

	return messageRef(sent), nil
}

func (a *Adapter) EditText(ctx context.Context, ref channel.MessageRef, text string) error {
	return a.retrying(ctx, "edit message text", func() error {
		_, err := a.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
			ChatID:    tu.ID(ref.ChatID),
			MessageID: ref.MessageID,
			Text:      text,
		})
		if isMessageNotModified(err) {
			return nil
		}
		return err
	})
}

func (a *Adapter) EditCaption(ctx context.Context, ref channel.MessageRef, caption string, buttons [][]channel.Button) error {
	return a.retrying(ctx, "edit message caption", func() error {
		_, err := a.bot.EditMessageCaption(ctx, &telego.EditMessageCaptionParams{
			ChatID:      tu.ID(ref.ChatID),
			MessageID:   ref.MessageID,
			Caption:     caption,
			ReplyMarkup: inlineKeyboard(buttons),
		})
		if isMessageNotModified(err) {
			return nil
		}
		return err
	})
}

func (a *Adapter) DeleteMessage(ctx context.Context, ref channel.MessageRef) error {
	return a.retrying(ctx, "delete message", func() error {
		return a.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{
			ChatID:    tu.ID(ref.ChatID),
			MessageID: ref.MessageID,
		})
	})
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	params := tu.CallbackQuery(callbackID)
	if strings.TrimSpace(text) != "" {
		params = params.WithText(text)
	}
	return wrapError("answer callback", a.bot.AnswerCallbackQuery(ctx, params))
}

// OpenFile resolves a file id and streams its content. A self-hosted Bot API
// server in local mode returns absolute paths, which are opened directly.
// Rate limits surface as channel.RateLimitError and are left to the caller.
func (a *Adapter) OpenFile(ctx context.Context, ref media.FileRef) (io.ReadCloser, int64, error) {
	if ref.IsZero() {
		return nil, 0, errors.New("file reference is empty")
	}

	file, err := a.bot.GetFile(ctx, &telego.GetFileParams{FileID: ref.ID})
	if err != nil {
		return nil, 0, wrapError("get file", err)
	}

	total := int64(file.FileSize)
	if total <= 0 {
		total = ref.SizeBytes
	}

	if filepath.IsAbs(file.FilePath) {
		if local, err := os.Open(file.FilePath); err == nil {
			return local, total, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.bot.FileDownloadURL(file.FilePath), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build download request: %w", err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("download file: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		resp.Body.Close()
		return nil, 0, &channel.RateLimitError{
			RetryAfter: retryAfterHeader(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("download file: status %d", resp.StatusCode),
		}
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, 0, fmt.Errorf("download file: status %d", resp.StatusCode)
	}

	if resp.ContentLength > 0 {
		total = resp.ContentLength
	}

	return resp.Body, total, nil
}

// retrying runs call and replays it after each rate limit, sleeping for the
// interval Telegram mandates, up to sendAttempts times.
func (a *Adapter) retrying(ctx context.Context, op string, call func() error) error {
	var err error
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		err = wrapError(op, call())
		wait, limited := channel.RetryAfter(err)
		if !limited || attempt == sendAttempts {
			return err
		}

		a.log.Warn("Telegram rate limit hit, backing off", "op", op, "retry_after", wait, "attempt", attempt)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func inputFile(payload channel.Media) (telego.InputFile, func(), error) {
	if path := strings.TrimSpace(payload.LocalPath); path != "" {
		file, err := os.Open(path)
		if err != nil {
			return telego.InputFile{}, func() {}, fmt.Errorf("open upload: %w", err)
		}
		return tu.File(file), func() { file.Close() }, nil
	}

	if payload.File.IsZero() {
		return telego.InputFile{}, func() {}, errors.New("media has neither a local path nor a file id")
	}
	return tu.FileFromID(payload.File.ID), func() {}, nil
}

func inlineKeyboard(buttons [][]channel.Button) *telego.InlineKeyboardMarkup {
	if len(buttons) == 0 {
		return nil
	}

	rows := make([][]telego.InlineKeyboardButton, 0, len(buttons))
	for _, row := range buttons {
		if len(row) == 0 {
			continue
		}
		keys := make([]telego.InlineKeyboardButton, 0, len(row))
		for _, button := range row {
			keys = append(keys, tu.InlineKeyboardButton(button.Text).WithCallbackData(button.Data))
		}
		rows = append(rows, tu.InlineKeyboardRow(keys...))
	}
	if len(rows) == 0 {
		return nil
	}

	return tu.InlineKeyboard(rows...)
}

func replyParameters(messageID int) *telego.ReplyParameters {
	if messageID <= 0 {
		return nil
	}
	return &telego.ReplyParameters{MessageID: messageID}
}

func messageRef(message *telego.Message) channel.MessageRef {
	if message == nil {
		return channel.MessageRef{}
	}
	return channel.MessageRef{ChatID: message.Chat.ID, MessageID: message.MessageID}
}
