package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"bra_notification_bot/internal/domain/messaging"
)

var (
	ErrMissingSignature = errors.New("missing X-Hub-Signature-256")
	ErrBadSignature     = errors.New("webhook signature mismatch")
)

// WebhookPayload is the subset of the Cloud API notification the bot reads.
type WebhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []webhookMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type webhookMessage struct {
	From string `json:"from"`
	ID   string `json:"id"`
	Type string `json:"type"`
	Text struct {
		Body string `json:"body"`
	} `json:"text"`
	Location struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"location"`
	Interactive struct {
		Type        string `json:"type"`
		ButtonReply struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply"`
		ListReply struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"list_reply"`
	} `json:"interactive"`
	// Quick-reply button of a template message.
	Button struct {
		Payload string `json:"payload"`
		Text    string `json:"text"`
	} `json:"button"`
}

// ParseWebhook extracts the user messages of a notification. Status updates
// and other fields are ignored.
func ParseWebhook(body []byte) ([]messaging.Inbound, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}

	var out []messaging.Inbound
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if strings.TrimSpace(change.Field) != "messages" {
				continue
			}
			names := make(map[string]string, len(change.Value.Contacts))
			for _, contact := range change.Value.Contacts {
				names[contact.WaID] = contact.Profile.Name
			}
			for _, m := range change.Value.Messages {
				in := toInbound(m)
				in.Name = names[in.From]
				out = append(out, in)
			}
		}
	}
	return out, nil
}

func toInbound(m webhookMessage) messaging.Inbound {
	in := messaging.Inbound{
		ID:   strings.TrimSpace(m.ID),
		From: strings.TrimSpace(m.From),
		Kind: messaging.InboundUnsupported,
	}
	switch strings.ToLower(strings.TrimSpace(m.Type)) {
	case "text":
		in.Kind = messaging.InboundText
		in.Text = strings.TrimSpace(m.Text.Body)
	case "location":
		in.Kind = messaging.InboundLocation
		in.Lat = m.Location.Latitude
		in.Lng = m.Location.Longitude
	case "interactive":
		switch m.Interactive.Type {
		case "button_reply":
			in.Kind = messaging.InboundInteractive
			in.ReplyID = m.Interactive.ButtonReply.ID
			in.ReplyTitle = m.Interactive.ButtonReply.Title
		case "list_reply":
			in.Kind = messaging.InboundInteractive
			in.ReplyID = m.Interactive.ListReply.ID
			in.ReplyTitle = m.Interactive.ListReply.Title
		}
	case "button":
		in.Kind = messaging.InboundInteractive
		in.ReplyID = m.Button.Payload
		in.ReplyTitle = m.Button.Text
	}
	return in
}

// VerifySignature checks the X-Hub-Signature-256 header against the app secret.
func VerifySignature(appSecret string, body []byte, header string) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrMissingSignature
	}
	if !strings.HasPrefix(header, "sha256=") {
		return fmt.Errorf("%w: invalid header format", ErrBadSignature)
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(header, "sha256="))
	if err != nil {
		return fmt.Errorf("%w: invalid hex", ErrBadSignature)
	}

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}

// Sign returns the header value Meta would send for body.
func Sign(appSecret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
