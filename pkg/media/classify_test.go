package media

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		desc Descriptor
		want Kind
	}{
		{name: "plain text", desc: Descriptor{Text: "hi"}, want: KindText},
		{name: "empty message", desc: Descriptor{Text: "   "}, want: KindUnknown},
		{name: "photo", desc: Descriptor{Attachment: AttachmentPhoto}, want: KindImage},
		{name: "photo with caption", desc: Descriptor{Text: "look", Attachment: AttachmentPhoto}, want: KindImage},
		{name: "mp4 document", desc: Descriptor{Attachment: AttachmentDocument, MimeType: "video/mp4"}, want: KindVideo},
		{name: "uppercase mime", desc: Descriptor{Attachment: AttachmentDocument, MimeType: "VIDEO/QuickTime"}, want: KindVideo},
		{name: "gif document", desc: Descriptor{Attachment: AttachmentDocument, MimeType: "image/gif"}, want: KindAnimation},
		{name: "png document", desc: Descriptor{Attachment: AttachmentDocument, MimeType: "image/png"}, want: KindImage},
		{name: "webp sticker wins as image", desc: Descriptor{Attachment: AttachmentDocument, MimeType: "image/webp", StickerSet: true}, want: KindImage},
		{name: "tgs sticker", desc: Descriptor{Attachment: AttachmentDocument, MimeType: "application/x-tgsticker", StickerSet: true}, want: KindSticker},
		{name: "sticker without mime", desc: Descriptor{Attachment: AttachmentDocument, StickerSet: true}, want: KindSticker},
		{name: "octet stream", desc: Descriptor{Attachment: AttachmentDocument, MimeType: "application/octet-stream"}, want: KindUnknown},
		{name: "link preview", desc: Descriptor{Attachment: AttachmentWebPage}, want: KindText},
		{name: "unmapped attachment", desc: Descriptor{Attachment: "poll"}, want: KindUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Classify(tc.desc))
		})
	}
}

func TestNewItemCarriesDescriptorFields(t *testing.T) {
	t.Parallel()

	item := NewItem(5, 9, Descriptor{
		Attachment: AttachmentDocument,
		MimeType:   "video/mp4",
		FileName:   "clip.mp4",
		SizeBytes:  1024,
		File:       FileRef{ID: "f1", SizeBytes: 1024},
	})

	assert.Equal(t, KindVideo, item.Kind)
	assert.Equal(t, int64(5), item.ChatID)
	assert.Equal(t, 9, item.MessageID)
	assert.Equal(t, "clip.mp4", item.FileName)
	assert.Equal(t, "f1", item.File.ID)
}

func TestParseKind(t *testing.T) {
	t.Parallel()

	assert.Equal(t, KindImage, ParseKind("photo"))
	assert.Equal(t, KindDocument, ParseKind(" Document "))
	assert.Equal(t, KindUnknown, ParseKind("voice"))
}

func TestSizeMB(t *testing.T) {
	t.Parallel()

	if got := SizeMB(25 * 1024 * 1024); !strings.HasPrefix(got, "25.0") {
		t.Fatalf("SizeMB = %q, want 25.0MB", got)
	}
}
