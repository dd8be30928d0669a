package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"clipbot/pkg/bus"
	"clipbot/pkg/media"
)

// Handler processes one inbound event. Adapters call it once per update.
type Handler = bus.Handler

// Adapter bridges one external transport (for example Telegram) into the bot.
type Adapter interface {
	Name() string
	Run(context.Context, Handler) error
}

// MessageRef addresses one message in one chat.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Button is one inline button; Data is the callback token it carries.
type Button struct {
	Text string
	Data string
}

// Media is an outbound media payload. Either LocalPath (upload) or File
// (re-send an already hosted file) must be set.
type Media struct {
	Kind      media.Kind
	LocalPath string
	File      media.FileRef
	Caption   string
}

// SendOptions tunes one outbound media message.
type SendOptions struct {
	Buttons   [][]Button
	ReplyTo   int
	Spoiler   bool
	Streaming bool
}

// Transport is the set of outbound primitives the pipeline consumes.
type Transport interface {
	SendMedia(ctx context.Context, chatID int64, payload Media, opts SendOptions) (MessageRef, error)
	SendText(ctx context.Context, chatID int64, text string, replyTo int) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string) error
	EditCaption(ctx context.Context, ref MessageRef, caption string, buttons [][]Button) error
	DeleteMessage(ctx context.Context, ref MessageRef) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
	// OpenFile starts streaming a remote file and reports its total size when known.
	OpenFile(ctx context.Context, file media.FileRef) (io.ReadCloser, int64, error)
}

// RateLimitError is returned when the transport asks the caller to back off.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter)
	}
	return fmt.Sprintf("rate limited: retry after %s: %v", e.RetryAfter, e.Err)
}

func (e *RateLimitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// RetryAfter extracts the mandated back-off from a rate limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return rateErr.RetryAfter, true
	}
	return 0, false
}
