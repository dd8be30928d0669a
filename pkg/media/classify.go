package media

import "strings"

// Classify maps a descriptor to a content kind. Rules are applied in priority
// order and anything unmatched degrades to KindUnknown.
func Classify(desc Descriptor) Kind {
	if desc.Attachment == AttachmentNone {
		if strings.TrimSpace(desc.Text) != "" {
			return KindText
		}
		return KindUnknown
	}

	switch desc.Attachment {
	case AttachmentPhoto:
		return KindImage
	case AttachmentDocument:
		return classifyDocument(desc)
	case AttachmentWebPage:
		return KindText
	default:
		return KindUnknown
	}
}

func classifyDocument(desc Descriptor) Kind {
	mime := strings.ToLower(strings.TrimSpace(desc.MimeType))

	switch {
	case strings.HasPrefix(mime, "video/"):
		return KindVideo
	case strings.Contains(mime, "gif"):
		return KindAnimation
	case strings.HasPrefix(mime, "image/"):
		return KindImage
	case desc.StickerSet:
		return KindSticker
	default:
		return KindUnknown
	}
}
