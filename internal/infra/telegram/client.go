// internal/infra/telegram/client.go
package telegram

import (
	"bytes"
	"context"
	"fmt"
	"strconv"

	"bra_notification_bot/internal/domain/messaging"
	"bra_notification_bot/internal/domain/subscription"

	"gopkg.in/telebot.v3"
)

// TelebotAdapter implements messaging.Sender using the gopkg.in/telebot.v3 library.
// Recipient IDs are Telegram chat IDs in decimal form.
type TelebotAdapter struct {
	bot *telebot.Bot
}

func NewTelebotAdapter(b *telebot.Bot) *TelebotAdapter {
	return &TelebotAdapter{bot: b}
}

func (tba *TelebotAdapter) Platform() subscription.Platform {
	return subscription.PlatformTelegram
}

func chatID(recipientID string) (telebot.ChatID, error) {
	id, err := strconv.ParseInt(recipientID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q: %w", recipientID, err)
	}
	return telebot.ChatID(id), nil
}

// SendText sends a plain text message. telebot has no per-request context,
// so ctx is only checked before sending.
func (tba *TelebotAdapter) SendText(ctx context.Context, recipientID, text string) error {
	return tba.send(ctx, recipientID, text)
}

// SendDocument lets Telegram fetch the document from its public URL.
func (tba *TelebotAdapter) SendDocument(ctx context.Context, recipientID string, doc messaging.Document) error {
	return tba.send(ctx, recipientID, &telebot.Document{
		File:     telebot.FromURL(doc.URL),
		FileName: doc.Filename,
		Caption:  doc.Caption,
		MIME:     "application/pdf",
	})
}

// SendImage uploads the image bytes as a photo.
func (tba *TelebotAdapter) SendImage(ctx context.Context, recipientID string, img messaging.Image) error {
	return tba.send(ctx, recipientID, &telebot.Photo{
		File:    telebot.FromReader(bytes.NewReader(img.Data)),
		Caption: img.Caption,
	})
}

// maxAlbumSize is the Bot API limit of a media group.
const maxAlbumSize = 10

// SendImageGroup sends the images as photo albums. A trailing chunk of a
// single image goes out as a plain photo since albums need at least two.
func (tba *TelebotAdapter) SendImageGroup(ctx context.Context, recipientID string, imgs []messaging.Image) error {
	for start := 0; start < len(imgs); start += maxAlbumSize {
		chunk := imgs[start:min(start+maxAlbumSize, len(imgs))]
		if len(chunk) == 1 {
			if err := tba.SendImage(ctx, recipientID, chunk[0]); err != nil {
				return err
			}
			continue
		}
		album := make(telebot.Album, 0, len(chunk))
		for _, img := range chunk {
			album = append(album, &telebot.Photo{
				File:    telebot.FromReader(bytes.NewReader(img.Data)),
				Caption: img.Caption,
			})
		}
		if err := tba.sendAlbum(ctx, recipientID, album); err != nil {
			return err
		}
	}
	return nil
}

// SendButtons sends the body with one inline button per row.
func (tba *TelebotAdapter) SendButtons(ctx context.Context, recipientID, body string, buttons []messaging.Button) error {
	return tba.send(ctx, recipientID, body, &telebot.SendOptions{ReplyMarkup: inlineMarkup(buttons)})
}

func (tba *TelebotAdapter) send(ctx context.Context, recipientID string, what interface{}, opts ...interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chat, err := chatID(recipientID)
	if err != nil {
		return err
	}
	if _, err := tba.bot.Send(chat, what, opts...); err != nil {
		return fmt.Errorf("telegram send to %s: %w", recipientID, err)
	}
	return nil
}

func (tba *TelebotAdapter) sendAlbum(ctx context.Context, recipientID string, album telebot.Album) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chat, err := chatID(recipientID)
	if err != nil {
		return err
	}
	if _, err := tba.bot.SendAlbum(chat, album); err != nil {
		return fmt.Errorf("telegram album to %s: %w", recipientID, err)
	}
	return nil
}

func inlineMarkup(buttons []messaging.Button) *telebot.ReplyMarkup {
	markup := &telebot.ReplyMarkup{}
	for _, b := range buttons {
		markup.InlineKeyboard = append(markup.InlineKeyboard, []telebot.InlineButton{{Text: b.Title, Data: b.ID}})
	}
	return markup
}
