package pipeline

import (
	"context"
	"testing"

	"clipbot/pkg/bus"
	"clipbot/pkg/index"
	"clipbot/pkg/media"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func command(name string) bus.InboundEvent {
	return bus.InboundEvent{ID: "req-cmd", Kind: bus.KindCommand, ChatID: chatMe, MessageID: 3, SenderID: 9, Command: name}
}

func TestHandleCommandReplies(t *testing.T) {
	tests := []struct {
		name    string
		command string
		want    string
	}{
		{name: "ping", command: "ping", want: "pong"},
		{name: "id", command: "id", want: "Chat ID: 11\nUser ID: 9"},
		{name: "unknown", command: "nope", want: "Unknown command. Send /help for the list."},
		{name: "uppercase", command: "PING", want: "pong"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)

			h.svc.HandleCommand(context.Background(), command(tt.command))

			require.Len(t, h.transport.texts, 1)
			assert.Equal(t, tt.want, h.transport.texts[0].Text)
			assert.Equal(t, 3, h.transport.texts[0].ReplyTo)
		})
	}
}

func TestHelpListsEveryCommand(t *testing.T) {
	h := newHarness(t)

	for name := range h.svc.commands {
		assert.Contains(t, helpText, "/"+name)
	}
}

func TestStatsCountsIndexedKinds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.index.Upsert(ctx, index.Entry{ChatID: 1, MessageID: 1, Kind: media.KindVideo}))
	require.NoError(t, h.index.Upsert(ctx, index.Entry{ChatID: 1, MessageID: 2, Kind: media.KindVideo}))
	require.NoError(t, h.index.Upsert(ctx, index.Entry{ChatID: 1, MessageID: 3, Kind: media.KindImage}))

	h.svc.HandleCommand(ctx, command("stats"))

	require.Len(t, h.transport.texts, 1)
	assert.Equal(t, "Indexed files: 3\nimage: 1\nvideo: 2", h.transport.texts[0].Text)
}

func TestStatusReportsSettings(t *testing.T) {
	h := newHarness(t)

	h.svc.HandleCommand(context.Background(), command("status"))

	require.Len(t, h.transport.texts, 1)
	text := h.transport.texts[0].Text
	assert.Contains(t, text, "Clips: 3 x 10s")
	assert.Contains(t, text, "Target chat: -100200")
	assert.Contains(t, text, "Image processing: enabled")
	assert.Contains(t, text, h.guard.Root())
}
