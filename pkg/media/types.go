// Package media classifies inbound media and decides whether it is materialized.
package media

import (
	"fmt"
	"strings"
)

// Kind is the content kind assigned to one inbound message.
type Kind string

const (
	KindText      Kind = "text"
	KindImage     Kind = "image"
	KindVideo     Kind = "video"
	KindAnimation Kind = "animation"
	KindSticker   Kind = "sticker"
	KindDocument  Kind = "document"
	KindUnknown   Kind = "unknown"
)

// ParseKind maps a persisted kind string back to a Kind, degrading to KindUnknown.
func ParseKind(raw string) Kind {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindText:
		return KindText
	case KindImage, "photo":
		return KindImage
	case KindVideo:
		return KindVideo
	case KindAnimation:
		return KindAnimation
	case KindSticker:
		return KindSticker
	case KindDocument:
		return KindDocument
	default:
		return KindUnknown
	}
}

// Attachment is the shape of the media payload as seen by the transport.
type Attachment string

const (
	AttachmentNone     Attachment = ""
	AttachmentPhoto    Attachment = "photo"
	AttachmentDocument Attachment = "document"
	AttachmentWebPage  Attachment = "webpage"
)

// FileRef identifies a remote file the transport can open for download.
type FileRef struct {
	ID        string
	SizeBytes int64
}

// IsZero reports whether no remote file is referenced.
func (r FileRef) IsZero() bool {
	return strings.TrimSpace(r.ID) == ""
}

// Descriptor is the tagged media description populated once by the transport adapter.
type Descriptor struct {
	Text       string
	Attachment Attachment
	MimeType   string
	FileName   string
	SizeBytes  int64
	StickerSet bool
	File       FileRef
	// Native is the transport's own media type for File, used when the
	// hosted file is sent again without downloading it.
	Native Kind
}

// Item is one classified unit of inbound content. It is never persisted.
type Item struct {
	ChatID    int64
	MessageID int
	Kind      Kind
	SizeBytes int64
	MimeType  string
	FileName  string
	File      FileRef
	Native    Kind
}

// NewItem classifies a descriptor and binds it to its source message.
func NewItem(chatID int64, messageID int, desc Descriptor) Item {
	return Item{
		ChatID:    chatID,
		MessageID: messageID,
		Kind:      Classify(desc),
		SizeBytes: desc.SizeBytes,
		MimeType:  desc.MimeType,
		FileName:  desc.FileName,
		File:      desc.File,
		Native:    desc.Native,
	}
}

// SizeMB renders a byte count as megabytes with one decimal.
func SizeMB(sizeBytes int64) string {
	return fmt.Sprintf("%.1fMB", float64(sizeBytes)/(1024*1024))
}
