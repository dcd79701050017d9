package messenger

import (
	"github.com/vidstab-bot/messenger-webhook-go/internal/nested"
)

// AttachmentTypeVideo is the only attachment type the pipeline processes.
const AttachmentTypeVideo = "video"

// MessagingEvent is the normalized part of a user message the pipeline needs.
type MessagingEvent struct {
	SenderID  string
	Timestamp int64
	mediaURL  string
}

// MediaURL returns the URL of the first attachment when it is a video.
func (e MessagingEvent) MediaURL() (string, bool) {
	return e.mediaURL, e.mediaURL != ""
}

// Extract reads the first messaging record of the first entry in raw's body.
// A missing key, an out-of-range index, a missing sender id or a missing
// integer timestamp all return false.
func Extract(raw nested.Mapping) (MessagingEvent, bool) {
	record, ok := nested.At(raw, KeyBody, KeyEntry, 0, "messaging", 0)
	if !ok {
		return MessagingEvent{}, false
	}

	senderValue, ok := nested.At(record, "sender", "id")
	if !ok {
		return MessagingEvent{}, false
	}
	senderID, ok := nested.AsString(senderValue)
	if !ok || senderID == "" {
		return MessagingEvent{}, false
	}

	tsValue, ok := nested.At(record, "timestamp")
	if !ok {
		return MessagingEvent{}, false
	}
	timestamp, ok := nested.AsInt(tsValue)
	if !ok {
		return MessagingEvent{}, false
	}

	return MessagingEvent{
		SenderID:  senderID,
		Timestamp: timestamp,
		mediaURL:  extractMediaURL(record),
	}, true
}

// extractMediaURL returns the payload URL of the first attachment when its
// type is video, and "" for every other case.
func extractMediaURL(record any) string {
	attachment, ok := nested.At(record, "message", "attachments", 0)
	if !ok {
		return ""
	}

	typ, ok := nested.At(attachment, "type")
	if !ok || typ != AttachmentTypeVideo {
		return ""
	}

	u, ok := nested.At(attachment, "payload", "url")
	if !ok {
		return ""
	}
	s, _ := u.(string)
	return s
}
