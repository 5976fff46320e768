package domain

// InboundEvent is one decoded messaging event from a webhook notification.
// Payload is exactly one of TextMessage, AttachmentMessage or Postback, or nil
// when the platform sent a shape the bot does not handle.
type InboundEvent struct {
	SenderID    string
	RecipientID string
	Timestamp   int64
	Payload     Payload
}

// Payload is the sealed set of event payload kinds.
type Payload interface {
	payload()
}

// TextMessage is a user message that carried text.
type TextMessage struct {
	MessageID string
	Text      string
}

// AttachmentMessage is a user message without text (images, stickers, gifs).
type AttachmentMessage struct {
	MessageID   string
	Attachments []Attachment
}

type Attachment struct {
	Type string
	URL  string
}

// Postback is a button-triggered event.
type Postback struct {
	Payload string
	Title   string
}

func (TextMessage) payload()       {}
func (AttachmentMessage) payload() {}
func (Postback) payload()          {}

// OutboundMessage is a single text reply to a user.
type OutboundMessage struct {
	RecipientID string
	Text        string
}
