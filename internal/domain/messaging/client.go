package messaging

import (
	"context"

	"bra_notification_bot/internal/domain/subscription"
)

// Document is a file sent by public URL.
type Document struct {
	URL      string
	Filename string
	Caption  string
}

// Image is raw image data. Key identifies identical content so platforms that
// need an upload step can reuse it.
type Image struct {
	Key      string
	Data     []byte
	MimeType string
	Caption  string
}

// Button is an interactive reply button. ID is a callback token.
type Button struct {
	ID    string
	Title string
}

// Sender defines the outbound operations the delivery pipeline needs from a chat platform.
// This decouples application logic from the platform SDKs.
type Sender interface {
	Platform() subscription.Platform
	SendText(ctx context.Context, recipientID, text string) error
	SendDocument(ctx context.Context, recipientID string, doc Document) error
	SendImage(ctx context.Context, recipientID string, img Image) error
	SendButtons(ctx context.Context, recipientID, body string, buttons []Button) error
}

// MediaGroupSender is implemented by platforms that can bundle several images
// into one grouped message.
type MediaGroupSender interface {
	SendImageGroup(ctx context.Context, recipientID string, imgs []Image) error
}

// ListRow is one selectable entry of an interactive list.
type ListRow struct {
	ID          string
	Title       string
	Description string
}

type ListSection struct {
	Title string
	Rows  []ListRow
}

// Messenger is the full interactive surface used by the WhatsApp conversation flow.
type Messenger interface {
	Sender
	SendList(ctx context.Context, recipientID, body, buttonText string, sections []ListSection) error
	React(ctx context.Context, recipientID, messageID, emoji string) error
	MarkRead(ctx context.Context, messageID string) error
}
