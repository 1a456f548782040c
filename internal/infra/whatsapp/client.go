// Package whatsapp is the WhatsApp Cloud API adapter: outbound messages and
// inbound webhook parsing.
package whatsapp

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"bra_notification_bot/internal/domain/messaging"
	"bra_notification_bot/internal/domain/subscription"

	"github.com/sirupsen/logrus"
)

const DefaultBaseURL = "https://graph.facebook.com/v21.0"

// Platform limits, in runes.
const (
	maxTextLen        = 4096
	maxBodyLen        = 1024
	maxCaptionLen     = 1024
	maxButtonTitleLen = 20
	maxRowTitleLen    = 24
	maxRowDescLen     = 72
	maxSectionLen     = 24
	maxButtons        = 3
	maxRows           = 10
)

// APIError is a non-2xx answer from the Graph API.
type APIError struct {
	StatusCode int
	Code       int    `json:"code"`
	Subcode    int    `json:"error_subcode"`
	Type       string `json:"type"`
	Message    string `json:"message"`
	TraceID    string `json:"fbtrace_id"`
	Body       string `json:"-"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("whatsapp api error: status=%d code=%d %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("whatsapp api error: status=%d body=%s", e.StatusCode, e.Body)
}

type Config struct {
	BaseURL       string
	AccessToken   string
	PhoneNumberID string
	// TemplateName, when set, sends bulletin documents as a template message
	// with a document header so recipients outside the 24h window get them.
	TemplateName string
	TemplateLang string
}

// Client implements messaging.Messenger against the WhatsApp Cloud API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *logrus.Entry

	mediaMu  sync.Mutex
	mediaIDs map[string]string // content key -> uploaded media id
}

func NewClient(cfg Config, httpClient *http.Client, logger *logrus.Entry) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.TemplateLang == "" {
		cfg.TemplateLang = "fr"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.WithField("component", "whatsapp_client"),
		mediaIDs:   make(map[string]string),
	}
}

func (c *Client) Platform() subscription.Platform {
	return subscription.PlatformWhatsApp
}

type message map[string]any

func newMessage(to, kind string) message {
	return message{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              kind,
	}
}

func (c *Client) SendText(ctx context.Context, to, text string) error {
	m := newMessage(to, "text")
	m["text"] = map[string]any{"body": truncate(text, maxTextLen)}
	return c.postMessage(ctx, m)
}

// SendDocument sends a document by link, wrapped in the configured template when there is one.
func (c *Client) SendDocument(ctx context.Context, to string, doc messaging.Document) error {
	document := map[string]any{"link": doc.URL, "filename": doc.Filename}
	if c.cfg.TemplateName == "" {
		m := newMessage(to, "document")
		if doc.Caption != "" {
			document["caption"] = truncate(doc.Caption, maxCaptionLen)
		}
		m["document"] = document
		return c.postMessage(ctx, m)
	}

	components := []map[string]any{{
		"type":       "header",
		"parameters": []map[string]any{{"type": "document", "document": document}},
	}}
	if doc.Caption != "" {
		components = append(components, map[string]any{
			"type":       "body",
			"parameters": []map[string]any{{"type": "text", "text": truncate(doc.Caption, maxCaptionLen)}},
		})
	}
	m := newMessage(to, "template")
	m["template"] = map[string]any{
		"name":       c.cfg.TemplateName,
		"language":   map[string]any{"code": c.cfg.TemplateLang},
		"components": components,
	}
	return c.postMessage(ctx, m)
}

// SendImage uploads the image once per content key and sends it by media id.
func (c *Client) SendImage(ctx context.Context, to string, img messaging.Image) error {
	mediaID, err := c.mediaID(ctx, img)
	if err != nil {
		return err
	}
	image := map[string]any{"id": mediaID}
	if img.Caption != "" {
		image["caption"] = truncate(img.Caption, maxCaptionLen)
	}
	m := newMessage(to, "image")
	m["image"] = image
	return c.postMessage(ctx, m)
}

func (c *Client) SendButtons(ctx context.Context, to, body string, buttons []messaging.Button) error {
	if len(buttons) > maxButtons {
		c.logger.WithField("buttons", len(buttons)).Warn("Too many reply buttons, extra ones dropped")
		buttons = buttons[:maxButtons]
	}
	replies := make([]map[string]any, len(buttons))
	for i, b := range buttons {
		replies[i] = map[string]any{
			"type":  "reply",
			"reply": map[string]any{"id": b.ID, "title": truncate(b.Title, maxButtonTitleLen)},
		}
	}
	m := newMessage(to, "interactive")
	m["interactive"] = map[string]any{
		"type":   "button",
		"body":   map[string]any{"text": truncate(body, maxBodyLen)},
		"action": map[string]any{"buttons": replies},
	}
	return c.postMessage(ctx, m)
}

// SendList sends an interactive list. Rows beyond the platform maximum are dropped.
func (c *Client) SendList(ctx context.Context, to, body, buttonText string, sections []messaging.ListSection) error {
	remaining := maxRows
	out := make([]map[string]any, 0, len(sections))
	for _, s := range sections {
		if remaining == 0 {
			break
		}
		rows := s.Rows
		if len(rows) > remaining {
			rows = rows[:remaining]
		}
		remaining -= len(rows)

		outRows := make([]map[string]any, len(rows))
		for i, r := range rows {
			row := map[string]any{"id": r.ID, "title": truncate(r.Title, maxRowTitleLen)}
			if r.Description != "" {
				row["description"] = truncate(r.Description, maxRowDescLen)
			}
			outRows[i] = row
		}
		section := map[string]any{"rows": outRows}
		if s.Title != "" {
			section["title"] = truncate(s.Title, maxSectionLen)
		}
		out = append(out, section)
	}

	m := newMessage(to, "interactive")
	m["interactive"] = map[string]any{
		"type": "list",
		"body": map[string]any{"text": truncate(body, maxBodyLen)},
		"action": map[string]any{
			"button":   truncate(buttonText, maxButtonTitleLen),
			"sections": out,
		},
	}
	return c.postMessage(ctx, m)
}

func (c *Client) React(ctx context.Context, to, messageID, emoji string) error {
	m := newMessage(to, "reaction")
	m["reaction"] = map[string]any{"message_id": messageID, "emoji": emoji}
	return c.postMessage(ctx, m)
}

func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	return c.postMessage(ctx, message{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        messageID,
	})
}

func (c *Client) endpoint(resource string) string {
	return fmt.Sprintf("%s/%s/%s", c.cfg.BaseURL, c.cfg.PhoneNumberID, resource)
}

func (c *Client) postMessage(ctx context.Context, m message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode whatsapp message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("messages"), bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	_, err = c.do(req)
	return err
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whatsapp request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read whatsapp response: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(body)}
		var envelope struct {
			Error *APIError `json:"error"`
		}
		if json.Unmarshal(body, &envelope) == nil && envelope.Error != nil {
			envelope.Error.StatusCode = resp.StatusCode
			envelope.Error.Body = string(body)
			apiErr = envelope.Error
		}
		return nil, apiErr
	}
	return body, nil
}

func mediaKey(img messaging.Image) string {
	if img.Key != "" {
		return img.Key
	}
	sum := sha256.Sum256(img.Data)
	return hex.EncodeToString(sum[:])
}

// mediaID returns the cached media id for the image, uploading it on first use.
func (c *Client) mediaID(ctx context.Context, img messaging.Image) (string, error) {
	key := mediaKey(img)
	c.mediaMu.Lock()
	id, ok := c.mediaIDs[key]
	c.mediaMu.Unlock()
	if ok {
		return id, nil
	}

	id, err := c.upload(ctx, img)
	if err != nil {
		return "", err
	}
	c.mediaMu.Lock()
	c.mediaIDs[key] = id
	c.mediaMu.Unlock()
	return id, nil
}

func (c *Client) upload(ctx context.Context, img messaging.Image) (string, error) {
	mimeType := img.MimeType
	if mimeType == "" {
		mimeType = http.DetectContentType(img.Data)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("messaging_product", "whatsapp"); err != nil {
		return "", err
	}
	if err := w.WriteField("type", mimeType); err != nil {
		return "", err
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="image"`)
	header.Set("Content-Type", mimeType)
	part, err := w.CreatePart(header)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(img.Data); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("media"), &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	body, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.ID == "" {
		return "", fmt.Errorf("upload media: unexpected response %s", truncate(string(body), 200))
	}
	return out.ID, nil
}

// truncate cuts s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
