package messenger

// Recipient addresses an outbound message.
type Recipient struct {
	ID string `json:"id"`
}

// AttachmentPayload points at the attached media.
type AttachmentPayload struct {
	URL        string `json:"url"`
	IsReusable bool   `json:"is_reusable"`
}

// Attachment is a media attachment of an outbound message.
type Attachment struct {
	Type    string            `json:"type"`
	Payload AttachmentPayload `json:"payload"`
}

// MessageBody holds either text or an attachment.
type MessageBody struct {
	Text       string      `json:"text,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// OutboundMessage is the Send API request body.
type OutboundMessage struct {
	Recipient Recipient   `json:"recipient"`
	Message   MessageBody `json:"message"`
}
