package handler

import (
	"bytes"
	"encoding/json"
	"fmt"

	"busbot/internal/domain"
)

const pageObject = "page"

// notification is the body Messenger posts to the webhook. Several entries,
// each with several messaging events, may be batched into one notification.
type notification struct {
	Object string  `json:"object"`
	Entry  []entry `json:"entry"`
}

type entry struct {
	ID        string           `json:"id"`
	Time      int64            `json:"time"`
	Messaging []messagingEvent `json:"messaging"`
}

type messagingEvent struct {
	Sender    party           `json:"sender"`
	Recipient party           `json:"recipient"`
	Timestamp int64           `json:"timestamp"`
	Message   *message        `json:"message,omitempty"`
	Postback  *postback       `json:"postback,omitempty"`
	Delivery  json.RawMessage `json:"delivery,omitempty"`
	Read      json.RawMessage `json:"read,omitempty"`
}

type party struct {
	ID string `json:"id"`
}

type message struct {
	MID         string       `json:"mid"`
	Text        *string      `json:"text,omitempty"`
	IsEcho      bool         `json:"is_echo,omitempty"`
	Attachments []attachment `json:"attachments,omitempty"`
}

type attachment struct {
	Type    string `json:"type"`
	Payload struct {
		URL string `json:"url"`
	} `json:"payload"`
}

type postback struct {
	Payload string `json:"payload"`
	Title   string `json:"title"`
}

func decodeNotification(body []byte) (notification, error) {
	var n notification
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&n); err != nil {
		return notification{}, fmt.Errorf("handler: decode notification: %w", err)
	}
	return n, nil
}

// inboundEvents flattens every entry's messaging events, keeping their order.
func (n notification) inboundEvents() []domain.InboundEvent {
	var out []domain.InboundEvent
	for _, e := range n.Entry {
		for _, m := range e.Messaging {
			out = append(out, m.toDomain())
		}
	}
	return out
}

func (m messagingEvent) toDomain() domain.InboundEvent {
	ev := domain.InboundEvent{
		SenderID:    m.Sender.ID,
		RecipientID: m.Recipient.ID,
		Timestamp:   m.Timestamp,
	}
	switch {
	case m.Message != nil && !m.Message.IsEcho:
		if m.Message.Text != nil {
			ev.Payload = domain.TextMessage{MessageID: m.Message.MID, Text: *m.Message.Text}
			break
		}
		atts := make([]domain.Attachment, 0, len(m.Message.Attachments))
		for _, a := range m.Message.Attachments {
			atts = append(atts, domain.Attachment{Type: a.Type, URL: a.Payload.URL})
		}
		ev.Payload = domain.AttachmentMessage{MessageID: m.Message.MID, Attachments: atts}
	case m.Postback != nil:
		ev.Payload = domain.Postback{Payload: m.Postback.Payload, Title: m.Postback.Title}
	}
	// Echoes of the page's own messages, delivery and read receipts stay
	// payload-less and are only logged.
	return ev
}
