package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"clipbot/pkg/bus"
	"clipbot/pkg/channel"
	"clipbot/pkg/logger"
	"clipbot/pkg/media"

	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowFromSet(t *testing.T) {
	allowed := allowFromSet([]string{" 123 ", "", "456", "123"})
	if len(allowed) != 2 {
		t.Fatalf("allowFromSet len = %d, want 2", len(allowed))
	}
	if _, ok := allowed["123"]; !ok {
		t.Fatal("allowFromSet missing 123")
	}
	if _, ok := allowed["456"]; !ok {
		t.Fatal("allowFromSet missing 456")
	}
}

func TestSenderAllowed(t *testing.T) {
	adapter := &Adapter{allowFrom: map[string]struct{}{"1": {}}}
	if !adapter.senderAllowed("1") {
		t.Fatal("expected sender 1 to be allowed")
	}
	if adapter.senderAllowed("2") {
		t.Fatal("expected sender 2 to be denied")
	}

	adapter.allowFrom = nil
	if !adapter.senderAllowed("any") {
		t.Fatal("expected sender to be allowed when allowlist empty")
	}
}

func TestPreviewText(t *testing.T) {
	if got := previewText(" hello "); got != "hello" {
		t.Fatalf("previewText short = %q, want %q", got, "hello")
	}

	got := previewText(strings.Repeat("a", messagePreviewLimit+20))
	if len(got) != messagePreviewLimit+3 {
		t.Fatalf("previewText long len = %d, want %d", len(got), messagePreviewLimit+3)
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("previewText long = %q, want ellipsis suffix", got)
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text     string
		wantName string
		wantArgs string
		wantOK   bool
	}{
		{"/start", "start", "", true},
		{"/Stats@clip_bot", "stats", "", true},
		{"/id  extra words ", "id", "extra words", true},
		{"/", "", "", false},
		{"hello /start", "", "", false},
		{"", "", "", false},
	}

	for _, tt := range tests {
		name, args, ok := parseCommand(tt.text)
		assert.Equal(t, tt.wantOK, ok, tt.text)
		assert.Equal(t, tt.wantName, name, tt.text)
		assert.Equal(t, tt.wantArgs, args, tt.text)
	}
}

func TestDescriptorFor(t *testing.T) {
	tests := []struct {
		name     string
		message  *telego.Message
		wantKind media.Kind
		wantFile string
	}{
		{
			name:     "text",
			message:  &telego.Message{Text: "hi"},
			wantKind: media.KindText,
		},
		{
			name: "photo uses largest size",
			message: &telego.Message{Photo: []telego.PhotoSize{
				{FileID: "small", FileSize: 10},
				{FileID: "large", FileSize: 1000},
			}},
			wantKind: media.KindImage,
			wantFile: "large",
		},
		{
			name:     "video",
			message:  &telego.Message{Video: &telego.Video{FileID: "v", MimeType: "video/mp4", FileSize: 50 << 20}},
			wantKind: media.KindVideo,
			wantFile: "v",
		},
		{
			name:     "gif document",
			message:  &telego.Message{Document: &telego.Document{FileID: "g", MimeType: "image/gif"}},
			wantKind: media.KindAnimation,
			wantFile: "g",
		},
		{
			name:     "sticker",
			message:  &telego.Message{Sticker: &telego.Sticker{FileID: "s", FileUniqueID: "u1"}},
			wantKind: media.KindSticker,
			wantFile: "s",
		},
		{
			name:     "pdf document",
			message:  &telego.Message{Document: &telego.Document{FileID: "d", MimeType: "application/pdf"}},
			wantKind: media.KindUnknown,
			wantFile: "d",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc := descriptorFor(tt.message)
			assert.Equal(t, tt.wantKind, media.Classify(desc))
			assert.Equal(t, tt.wantFile, desc.File.ID)
		})
	}
}

func TestDescriptorForVideoCarriesSize(t *testing.T) {
	desc := descriptorFor(&telego.Message{
		Caption: " clip ",
		Video:   &telego.Video{FileID: "v", FileName: "movie.mp4", FileSize: 42},
	})

	assert.Equal(t, "clip", desc.Text)
	assert.Equal(t, "video/mp4", desc.MimeType)
	assert.Equal(t, "movie.mp4", desc.FileName)
	assert.Equal(t, int64(42), desc.SizeBytes)
	assert.Equal(t, int64(42), desc.File.SizeBytes)
	assert.Equal(t, media.KindVideo, desc.Native)
}

func TestStickerFileName(t *testing.T) {
	assert.Equal(t, "sticker_a.webp", stickerFileName(&telego.Sticker{FileUniqueID: "a"}))
	assert.Equal(t, "sticker_b.tgs", stickerFileName(&telego.Sticker{FileUniqueID: "b", IsAnimated: true}))
	assert.Equal(t, "sticker_c.webm", stickerFileName(&telego.Sticker{FileUniqueID: "c", IsVideo: true}))
}

func TestEventFromUpdateMessage(t *testing.T) {
	adapter := &Adapter{log: logger.Discard()}

	event, ok := adapter.eventFromUpdate(telego.Update{Message: &telego.Message{
		MessageID: 12,
		From:      &telego.User{ID: 77},
		Chat:      telego.Chat{ID: 99},
		Document:  &telego.Document{FileID: "f", MimeType: "video/webm", FileSize: 5},
	}})
	require.True(t, ok)

	assert.Equal(t, bus.KindMessage, event.Kind)
	assert.Equal(t, int64(99), event.ChatID)
	assert.Equal(t, 12, event.MessageID)
	assert.Equal(t, int64(77), event.SenderID)
	assert.Equal(t, "f", event.Descriptor.File.ID)
	assert.NotEmpty(t, event.ID)
}

func TestEventFromUpdateCommand(t *testing.T) {
	adapter := &Adapter{log: logger.Discard()}

	event, ok := adapter.eventFromUpdate(telego.Update{Message: &telego.Message{
		MessageID: 1,
		From:      &telego.User{ID: 1},
		Chat:      telego.Chat{ID: 1},
		Text:      "/ping",
	}})
	require.True(t, ok)
	assert.Equal(t, bus.KindCommand, event.Kind)
	assert.Equal(t, "ping", event.Command)
}

func TestEventFromUpdateCallback(t *testing.T) {
	adapter := &Adapter{log: logger.Discard()}

	event, ok := adapter.eventFromUpdate(telego.Update{CallbackQuery: &telego.CallbackQuery{
		ID:      "cb-1",
		From:    telego.User{ID: 5},
		Data:    " discard ",
		Message: &telego.Message{MessageID: 44, Chat: telego.Chat{ID: 55}, Video: &telego.Video{FileID: "vid"}},
	}})
	require.True(t, ok)

	assert.Equal(t, bus.KindCallback, event.Kind)
	assert.Equal(t, "cb-1", event.CallbackID)
	assert.Equal(t, media.KindVideo, event.Descriptor.Native)
	assert.Equal(t, "vid", event.Descriptor.File.ID)
	assert.Equal(t, "discard", event.CallbackData)
	assert.Equal(t, int64(55), event.ChatID)
	assert.Equal(t, 44, event.MessageID)
}

func TestEventFromUpdateDropsUnauthorizedAndEmpty(t *testing.T) {
	adapter := &Adapter{log: logger.Discard(), allowFrom: allowFromSet([]string{"1"})}

	_, ok := adapter.eventFromUpdate(telego.Update{Message: &telego.Message{From: &telego.User{ID: 2}, Text: "hi"}})
	assert.False(t, ok, "unauthorized sender")

	_, ok = adapter.eventFromUpdate(telego.Update{Message: &telego.Message{Text: "no sender"}})
	assert.False(t, ok, "missing sender")

	_, ok = adapter.eventFromUpdate(telego.Update{})
	assert.False(t, ok, "empty update")

	_, ok = adapter.eventFromUpdate(telego.Update{CallbackQuery: &telego.CallbackQuery{From: telego.User{ID: 1}}})
	assert.False(t, ok, "callback without message")
}

func TestWrapErrorConvertsTooManyRequests(t *testing.T) {
	apiErr := &telegoapi.Error{
		ErrorCode:   429,
		Description: "Too Many Requests: retry after 7",
		Parameters:  &telegoapi.ResponseParameters{RetryAfter: 7},
	}

	err := wrapError("send video", apiErr)
	wait, limited := channel.RetryAfter(err)
	require.True(t, limited)
	assert.Equal(t, 7*time.Second, wait)
	assert.ErrorIs(t, err, apiErr)

	err = wrapError("send video", &telegoapi.Error{ErrorCode: 429})
	wait, limited = channel.RetryAfter(err)
	require.True(t, limited)
	assert.Equal(t, defaultRetryAfter, wait)

	_, limited = channel.RetryAfter(wrapError("send video", &telegoapi.Error{ErrorCode: 400}))
	assert.False(t, limited)

	assert.NoError(t, wrapError("noop", nil))
}

func TestIsMessageNotModified(t *testing.T) {
	assert.True(t, isMessageNotModified(&telegoapi.Error{ErrorCode: 400, Description: "Bad Request: message is not modified"}))
	assert.False(t, isMessageNotModified(&telegoapi.Error{ErrorCode: 500, Description: "message is not modified"}))
	assert.False(t, isMessageNotModified(errors.New("message is not modified")))
	assert.False(t, isMessageNotModified(nil))
}

func TestRetryAfterHeader(t *testing.T) {
	assert.Equal(t, 3*time.Second, retryAfterHeader("3"))
	assert.Equal(t, defaultRetryAfter, retryAfterHeader(""))
	assert.Equal(t, defaultRetryAfter, retryAfterHeader("soon"))
}

func TestRetryingReplaysAfterRateLimit(t *testing.T) {
	adapter := &Adapter{log: logger.Discard()}

	calls := 0
	err := adapter.retrying(context.Background(), "edit", func() error {
		calls++
		if calls == 1 {
			return &telegoapi.Error{ErrorCode: 429, Parameters: &telegoapi.ResponseParameters{RetryAfter: 0}}
		}
		return nil
	})
	// RetryAfter 0 falls back to one second.
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryingStopsOnOtherErrors(t *testing.T) {
	adapter := &Adapter{log: logger.Discard()}

	calls := 0
	err := adapter.retrying(context.Background(), "delete", func() error {
		calls++
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete: boom")
	assert.Equal(t, 1, calls)
}

func TestInlineKeyboard(t *testing.T) {
	assert.Nil(t, inlineKeyboard(nil))
	assert.Nil(t, inlineKeyboard([][]channel.Button{{}}))

	markup := inlineKeyboard([][]channel.Button{
		{{Text: "Send", Data: "send_to_target"}, {Text: "Discard", Data: "discard"}},
		{{Text: "Delete", Data: "delete_file"}},
	})
	require.NotNil(t, markup)
	require.Len(t, markup.InlineKeyboard, 2)
	assert.Equal(t, "send_to_target", markup.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, "Delete", markup.InlineKeyboard[1][0].Text)
}

func TestInputFileRequiresSource(t *testing.T) {
	_, closeFile, err := inputFile(channel.Media{Kind: media.KindVideo})
	closeFile()
	require.Error(t, err)

	file, closeFile, err := inputFile(channel.Media{File: media.FileRef{ID: "abc"}})
	defer closeFile()
	require.NoError(t, err)
	assert.Equal(t, "abc", file.FileID)
}
